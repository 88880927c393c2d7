// Command streamtail follows background generation streams from a terminal.
// It drives the streamclient SDK end to end: start a stream and watch it,
// detach with Ctrl-C while the job keeps running, reattach later, cancel,
// or render a long-finished stream from the durable file cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Saluana/or3-chat-sub013/pkg/streamclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "attach":
		cmdAttach(os.Args[2:])
	case "cancel":
		cmdCancel(os.Args[2:])
	case "show":
		cmdShow(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: streamtail <command> [flags]

commands:
  start   -thread <id> -message <id> [-model <name>] -prompt <text>
  attach  -message <id>
  cancel  -message <id>
  show    -message <id>

environment:
  STREAM_API_URL    API base URL (default http://localhost:8080)
  STREAM_API_TOKEN  bearer token (required)
  STREAM_CACHE_DIR  cache directory (default user cache dir)
`)
}

func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	var (
		threadFlag  = fs.String("thread", "", "thread ID")
		messageFlag = fs.String("message", "", "message ID to stream into")
		modelFlag   = fs.String("model", "", "model override")
		promptFlag  = fs.String("prompt", "", "user prompt")
	)
	_ = fs.Parse(args)

	threadID := strings.TrimSpace(*threadFlag)
	messageID := strings.TrimSpace(*messageFlag)
	prompt := strings.TrimSpace(*promptFlag)
	if threadID == "" || messageID == "" {
		exitWithError(errors.New("-thread and -message are required"))
	}
	if prompt == "" {
		exitWithError(errors.New("-prompt is required"))
	}

	ctrl, r := newController(messageID)
	err := ctrl.Start(context.Background(), streamclient.CreateStreamParams{
		ThreadID: threadID,
		Model:    strings.TrimSpace(*modelFlag),
		Messages: []streamclient.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		exitWithError(err)
	}
	follow(ctrl, r, messageID)
}

func cmdAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	messageFlag := fs.String("message", "", "message ID to reattach to")
	_ = fs.Parse(args)

	messageID := strings.TrimSpace(*messageFlag)
	if messageID == "" {
		exitWithError(errors.New("-message is required"))
	}

	ctrl, r := newController(messageID)
	if err := ctrl.Reattach(context.Background()); err != nil {
		if errors.Is(err, streamclient.ErrCacheMiss) {
			exitWithError(fmt.Errorf("no cached stream for message %s; use start", messageID))
		}
		exitWithError(err)
	}
	follow(ctrl, r, messageID)
}

func cmdCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	messageFlag := fs.String("message", "", "message ID to cancel")
	_ = fs.Parse(args)

	messageID := strings.TrimSpace(*messageFlag)
	if messageID == "" {
		exitWithError(errors.New("-message is required"))
	}

	ctrl, _ := newController(messageID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	aborted, err := ctrl.Cancel(ctx)
	if err != nil {
		exitWithError(err)
	}
	if aborted {
		fmt.Println("stream aborted")
	} else {
		fmt.Println("stream already finished")
	}
}

func cmdShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	messageFlag := fs.String("message", "", "message ID to show")
	_ = fs.Parse(args)

	messageID := strings.TrimSpace(*messageFlag)
	if messageID == "" {
		exitWithError(errors.New("-message is required"))
	}

	ctrl, _ := newController(messageID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Refresh(ctx); err != nil {
		if !streamclient.IsNotFound(err) {
			exitWithError(err)
		}
		// Job already cleaned up server-side; the cache is all that is left.
		cache := newCache()
		entry, cerr := cache.Read(messageID)
		if cerr != nil {
			exitWithError(fmt.Errorf("stream gone and nothing cached for %s", messageID))
		}
		fmt.Print(entry.Content)
		fmt.Printf("\n[%s, cached %s]\n", entry.Status, entry.UpdatedAt.Format(time.RFC3339))
		return
	}
	fmt.Print(ctrl.Content())
	fmt.Printf("\n[%s]\n", ctrl.Status())
}

func newController(messageID string) (*streamclient.Controller, *tailRenderer) {
	token := strings.TrimSpace(os.Getenv("STREAM_API_TOKEN"))
	if token == "" {
		exitWithError(errors.New("STREAM_API_TOKEN is required"))
	}
	baseURL := strings.TrimSpace(os.Getenv("STREAM_API_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	r := &tailRenderer{}
	client := streamclient.NewClient(baseURL, token)
	ctrl := streamclient.NewController(client, newCache(), messageID, r.render)
	return ctrl, r
}

func newCache() *streamclient.FileCache {
	dir := strings.TrimSpace(os.Getenv("STREAM_CACHE_DIR"))
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			exitWithError(fmt.Errorf("resolve cache dir: %w", err))
		}
		dir = filepath.Join(base, "streamtail")
	}
	cache, err := streamclient.NewFileCache(dir)
	if err != nil {
		exitWithError(err)
	}
	return cache
}

// follow blocks until the stream terminates, the connection is lost, or the
// user detaches with Ctrl-C.
func follow(ctrl *streamclient.Controller, r *tailRenderer, messageID string) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			ctrl.Detach()
			fmt.Printf("\ndetached; stream keeps running. reattach with: streamtail attach -message %s\n", messageID)
			return
		case <-time.After(100 * time.Millisecond):
			switch ctrl.State() {
			case streamclient.StateTerminal:
				r.finish(ctrl.Status())
				return
			case streamclient.StateDetached:
				fmt.Printf("\nconnection lost; reattach with: streamtail attach -message %s\n", messageID)
				os.Exit(1)
			}
		}
	}
}

// tailRenderer appends newly observed content to stdout. Stream content only
// grows, so every render is a prefix extension of the last.
type tailRenderer struct {
	mu       sync.Mutex
	printed  int
	finished bool
}

func (t *tailRenderer) render(content, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(content) < t.printed {
		fmt.Print("\n--- resync ---\n")
		t.printed = 0
	}
	fmt.Print(content[t.printed:])
	t.printed = len(content)
}

func (t *tailRenderer) finish(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	fmt.Printf("\n[%s]\n", status)
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "streamtail: %v\n", err)
	os.Exit(1)
}
