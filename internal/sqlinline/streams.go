package sqlinline

// The guarded insert enforces the active-stream ceiling inside the statement
// so two concurrent creates cannot both squeeze past a full slot count.
// Zero rows back means capacity was exceeded.
const QInsertStreamJob = `--sql 0863b650-6916-4b8a-bc55-e65da8519ec1
insert into stream_jobs (id, owner_id, thread_id, message_id, model, status, content, chunks_received, started_at)
select $1::uuid, $2::text, $3::text, $4::text, $5::text, 'streaming', '', 0, now()
where (select count(*) from stream_jobs where status = 'streaming') < $6::int
returning id, started_at;
`

const QSelectStreamJob = `--sql a6141b1a-b6be-4a5c-8557-180b0e712e22
select id, owner_id, thread_id, message_id, model, status, content, chunks_received, error_message, started_at, completed_at
from stream_jobs
where id = $1::uuid and owner_id = $2::text;
`

// Appends ride on the status predicate: a terminal row matches nothing, so
// late runner flushes land as silent no-ops.
const QAppendStreamContent = `--sql 71fb3686-4abb-4e8b-b8e0-29c6ff597cd4
update stream_jobs
set content = content || $2::text,
    chunks_received = chunks_received + $3::int
where id = $1::uuid and status = 'streaming';
`

// The CASE keeps content monotonic: a racing flush cannot shrink what a
// viewer already observed.
const QCompleteStreamJob = `--sql aed0b545-0c86-481a-883b-c83700b03909
update stream_jobs
set status = 'complete',
    content = case when length($2::text) >= length(content) then $2::text else content end,
    completed_at = now()
where id = $1::uuid and status = 'streaming';
`

const QFailStreamJob = `--sql f69eeab2-3637-4569-ad47-9f25f9624b7c
update stream_jobs
set status = 'error',
    error_message = $2::text,
    completed_at = now()
where id = $1::uuid and status = 'streaming';
`

const QAbortStreamJob = `--sql 88b135b9-f41d-4921-88ea-89f61f9dbe12
update stream_jobs
set status = 'aborted',
    completed_at = now()
where id = $1::uuid and owner_id = $2::text and status = 'streaming'
returning id;
`

const QStreamJobExists = `--sql adaf918c-880b-4cb3-84e3-b31410b6672b
select exists(select 1 from stream_jobs where id = $1::uuid and owner_id = $2::text);
`

const QSelectStreamJobStatus = `--sql f1a7f1c8-aa23-4690-9982-bb820cac86da
select status from stream_jobs where id = $1::uuid;
`

const QTimeoutStreamJobs = `--sql 05697d65-fd45-4867-932e-baf8c19a7aa5
update stream_jobs
set status = 'error',
    error_message = $2::text,
    completed_at = now()
where status = 'streaming' and started_at < $1::timestamptz
returning id, owner_id, thread_id, message_id, model, content, chunks_received, started_at, completed_at;
`

const QDeleteExpiredStreamJobs = `--sql 45369c96-4efa-4fe4-b4e2-c394ed8a8c34
delete from stream_jobs
where status in ('complete', 'error', 'aborted') and completed_at < $1::timestamptz;
`
