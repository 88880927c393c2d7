package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
)

// Key layout:
//
//	stream:job:<id>   hash with the job fields except content
//	stream:content:<id>  plain string, grown with APPEND
//	stream:active     set of streaming job ids (capacity check)
//	stream:terminal   zset of finished ids scored by completion unix time
//
// Transitions are Lua scripts so the status check and the write land as one
// atomic step; a plain GET-then-SET would let a late flush resurrect a
// terminal job.
type RedisStore struct {
	client    *redis.Client
	maxActive int
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

const (
	redisActiveKey   = "stream:active"
	redisTerminalKey = "stream:terminal"
)

func redisJobKey(id string) string     { return fmt.Sprintf("stream:job:%s", id) }
func redisContentKey(id string) string { return fmt.Sprintf("stream:content:%s", id) }

var createScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[2],
  'owner_id', ARGV[3],
  'thread_id', ARGV[4],
  'message_id', ARGV[5],
  'model', ARGV[6],
  'status', 'streaming',
  'chunks', '0',
  'error', '',
  'started_at', ARGV[7],
  'completed_at', '')
redis.call('SADD', KEYS[1], ARGV[2])
return 1
`)

var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'streaming' then
  return 0
end
redis.call('APPEND', KEYS[2], ARGV[1])
redis.call('HINCRBY', KEYS[1], 'chunks', ARGV[2])
return 1
`)

var completeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'streaming' then
  return 0
end
local cur = redis.call('GET', KEYS[2])
if cur == false then
  cur = ''
end
if string.len(ARGV[2]) >= string.len(cur) then
  redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('HSET', KEYS[1], 'status', 'complete', 'completed_at', ARGV[3])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
return 1
`)

var failScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'streaming' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'error', 'error', ARGV[2], 'completed_at', ARGV[3])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
return 1
`)

var abortScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'owner_id') ~= ARGV[2] then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'streaming' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'aborted', 'completed_at', ARGV[3])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
return 1
`)

// NewRedis builds a store on an established go-redis client.
func NewRedis(client *redis.Client, maxActive int, timeout, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		maxActive: maxActive,
		timeout:   timeout,
		retention: retention,
		now:       time.Now,
	}
}

// CreateJob implements domain.JobStore.
func (s *RedisStore) CreateJob(ctx context.Context, params domain.CreateJobParams) (*domain.Job, error) {
	job := &domain.Job{
		ID:        uuid.NewString(),
		OwnerID:   params.OwnerID,
		ThreadID:  params.ThreadID,
		MessageID: params.MessageID,
		Model:     params.Model,
		Status:    domain.JobStatusStreaming,
		StartedAt: s.now(),
	}

	keys := []string{redisActiveKey, redisJobKey(job.ID)}
	args := []any{s.maxActive, job.ID, job.OwnerID, job.ThreadID, job.MessageID,
		job.Model, job.StartedAt.Format(time.RFC3339Nano)}
	n, err := createScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return nil, fmt.Errorf("create stream job: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrCapacityExceeded
	}
	return job, nil
}

// GetJob implements domain.JobStore.
func (s *RedisStore) GetJob(ctx context.Context, id, ownerID string) (*domain.Job, error) {
	fields, err := s.client.HGetAll(ctx, redisJobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get stream job: %w", err)
	}
	if len(fields) == 0 || fields["owner_id"] != ownerID {
		return nil, domain.ErrNotFound
	}

	content, err := s.client.Get(ctx, redisContentKey(id)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get stream content: %w", err)
	}

	return jobFromHash(id, fields, content)
}

// UpdateJob implements domain.JobStore.
func (s *RedisStore) UpdateJob(ctx context.Context, id string, delta domain.JobDelta) error {
	keys := []string{redisJobKey(id), redisContentKey(id)}
	n, err := appendScript.Run(ctx, s.client, keys, delta.ContentDelta, delta.Chunks).Int()
	if err != nil {
		return fmt.Errorf("append stream content: %w", err)
	}
	if n < 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CompleteJob implements domain.JobStore.
func (s *RedisStore) CompleteJob(ctx context.Context, id, finalContent string) error {
	now := s.now()
	keys := []string{redisJobKey(id), redisContentKey(id), redisActiveKey, redisTerminalKey}
	n, err := completeScript.Run(ctx, s.client, keys,
		id, finalContent, now.Format(time.RFC3339Nano), now.Unix()).Int()
	if err != nil {
		return fmt.Errorf("complete stream job: %w", err)
	}
	if n < 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FailJob implements domain.JobStore.
func (s *RedisStore) FailJob(ctx context.Context, id, message string) error {
	now := s.now()
	keys := []string{redisJobKey(id), redisContentKey(id), redisActiveKey, redisTerminalKey}
	n, err := failScript.Run(ctx, s.client, keys,
		id, message, now.Format(time.RFC3339Nano), now.Unix()).Int()
	if err != nil {
		return fmt.Errorf("fail stream job: %w", err)
	}
	if n < 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AbortJob implements domain.JobStore.
func (s *RedisStore) AbortJob(ctx context.Context, id, ownerID string) (bool, error) {
	now := s.now()
	keys := []string{redisJobKey(id), redisContentKey(id), redisActiveKey, redisTerminalKey}
	n, err := abortScript.Run(ctx, s.client, keys,
		id, ownerID, now.Format(time.RFC3339Nano), now.Unix()).Int()
	if err != nil {
		return false, fmt.Errorf("abort stream job: %w", err)
	}
	switch {
	case n < 0:
		return false, domain.ErrNotFound
	case n == 0:
		return false, nil
	}
	return true, nil
}

// CleanupExpired implements domain.JobStore. Each transition inside the pass
// is atomic; the pass as a whole does not need to be.
func (s *RedisStore) CleanupExpired(ctx context.Context) (domain.CleanupResult, error) {
	var res domain.CleanupResult
	now := s.now()

	ids, err := s.client.SMembers(ctx, redisActiveKey).Result()
	if err != nil {
		return res, fmt.Errorf("list active streams: %w", err)
	}
	msg := fmt.Sprintf("stream timed out after %s", s.timeout)
	for _, id := range ids {
		startedRaw, err := s.client.HGet(ctx, redisJobKey(id), "started_at").Result()
		if err == redis.Nil {
			// Stale set member; the job hash is gone.
			s.client.SRem(ctx, redisActiveKey, id)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read stream start: %w", err)
		}
		started, err := time.Parse(time.RFC3339Nano, startedRaw)
		if err != nil || now.Sub(started) <= s.timeout {
			continue
		}
		if err := s.FailJob(ctx, id, msg); err != nil {
			continue
		}
		fields, err := s.client.HGetAll(ctx, redisJobKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		content, _ := s.client.Get(ctx, redisContentKey(id)).Result()
		if job, err := jobFromHash(id, fields, content); err == nil {
			res.TimedOut = append(res.TimedOut, job)
		}
	}

	cutoff := strconv.FormatInt(now.Add(-s.retention).Unix(), 10)
	expired, err := s.client.ZRangeByScore(ctx, redisTerminalKey, &redis.ZRangeBy{
		Min: "-inf", Max: cutoff,
	}).Result()
	if err != nil {
		return res, fmt.Errorf("list expired streams: %w", err)
	}
	for _, id := range expired {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, redisJobKey(id), redisContentKey(id))
		pipe.ZRem(ctx, redisTerminalKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return res, fmt.Errorf("delete expired stream: %w", err)
		}
		res.Deleted++
	}
	return res, nil
}

func jobFromHash(id string, fields map[string]string, content string) (*domain.Job, error) {
	job := &domain.Job{
		ID:           id,
		OwnerID:      fields["owner_id"],
		ThreadID:     fields["thread_id"],
		MessageID:    fields["message_id"],
		Model:        fields["model"],
		Status:       domain.JobStatus(fields["status"]),
		Content:      content,
		ErrorMessage: fields["error"],
	}

	if chunks, err := strconv.Atoi(fields["chunks"]); err == nil {
		job.ChunksReceived = chunks
	}
	started, err := time.Parse(time.RFC3339Nano, fields["started_at"])
	if err != nil {
		return nil, fmt.Errorf("parse stream start: %w", err)
	}
	job.StartedAt = started
	if raw := fields["completed_at"]; raw != "" {
		completed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse stream completion: %w", err)
		}
		job.CompletedAt = &completed
	}
	return job, nil
}
