package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	kafka "github.com/segmentio/kafka-go"

	"cogrouter/internal/indexing/hashtrack"
)

// FileChange describes one settled, classified file change handed to a
// Watcher's Handle callback.
type FileChange struct {
	Path    string
	Content []byte
	Status  hashtrack.Status
}

// Handler processes one settled file change — typically re-embedding and
// re-chunking just that file and updating the similarity graph (component E).
type Handler func(ctx context.Context, change FileChange) error

// Watcher recursively watches Root for file changes, debounces and settles
// rapid edits into a single event per path, classifies each settled change
// against Tracker (component C), and dispatches genuinely new or changed
// files to Handle. This is component F, the File Watcher: it is the
// production caller of hashtrack.Tracker.Classify and Forget outside their
// own tests, and it records each changed file's new hash with Tracker.Record
// before calling Handle.
//
// The default dispatch path is an in-process bounded channel. When Queue is
// set, events are published to KafkaQueue instead (see kafkaqueue.go), so
// multiple indexer instances can share one durable change stream.
type Watcher struct {
	Root        string
	Tracker     *hashtrack.Tracker
	Debounce    time.Duration
	Settle      time.Duration
	WorkerCount int
	Handle      Handler

	// Queue and Writer, when both set, route settled events through
	// KafkaQueue.Publish instead of the in-process jobs channel.
	Queue  *KafkaQueue
	Writer *kafka.Writer

	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	timers map[string]*time.Timer
	jobs   chan string
	ctx    context.Context
}

// New builds a Watcher. workers <= 0 defaults to 3, matching the indexer's
// own default worker-pool size.
func New(root string, tracker *hashtrack.Tracker, debounce, settle time.Duration, workers int, handle Handler) *Watcher {
	if workers <= 0 {
		workers = 3
	}
	return &Watcher{
		Root:        root,
		Tracker:     tracker,
		Debounce:    debounce,
		Settle:      settle,
		WorkerCount: workers,
		Handle:      handle,
		timers:      make(map[string]*time.Timer),
		jobs:        make(chan string, 256),
	}
}

// Start registers Root (and its subdirectories) with fsnotify and blocks,
// dispatching settled changes to the in-process worker pool until ctx is
// canceled or the underlying watch fails.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("indexing/watch: create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	w.ctx = ctx
	defer fsw.Close()

	if err := filepath.Walk(w.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != w.Root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("indexing/watch: walk %s: %w", w.Root, err)
	}

	var wg sync.WaitGroup
	wg.Add(w.WorkerCount)
	for i := 0; i < w.WorkerCount; i++ {
		go func() {
			defer wg.Done()
			w.runWorker(ctx)
		}()
	}
	defer func() {
		close(w.jobs)
		wg.Wait()
	}()

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.onEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				continue
			}
			log.Printf("indexing/watch: fsnotify error: %v", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) onEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		_ = w.fsw.Add(ev.Name)
		return
	}

	path := ev.Name
	delay := w.Debounce + w.Settle

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(delay, func() {
		w.dispatch(path)
	})
}

// dispatch hands a settled path to whichever transport is configured.
func (w *Watcher) dispatch(path string) {
	if w.Queue != nil && w.Writer != nil {
		ev := ChangeEvent{Path: path, Kind: "modified"}
		if _, err := os.Stat(path); err != nil {
			ev.Kind = "deleted"
		}
		ctx := w.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := w.Queue.Publish(ctx, w.Writer, ev); err != nil {
			log.Printf("indexing/watch: publish %s: %v", path, err)
		}
		return
	}
	select {
	case w.jobs <- path:
	default:
		log.Printf("indexing/watch: jobs channel full, dropping event for %s", path)
	}
}

func (w *Watcher) runWorker(ctx context.Context) {
	for path := range w.jobs {
		if err := w.ProcessPath(ctx, path); err != nil {
			log.Printf("indexing/watch: process %s: %v", path, err)
		}
	}
}

// RunQueueConsumer consumes ChangeEvents published by Start (when Queue and
// Writer are set) and runs them through the same classify/record/handle path
// as the in-process worker pool. Run this in a separate goroutine (or a
// separate process entirely) from Start when Queue routing is enabled.
func (w *Watcher) RunQueueConsumer(ctx context.Context) error {
	if w.Queue == nil {
		return fmt.Errorf("indexing/watch: RunQueueConsumer requires Queue to be set")
	}
	return w.Queue.Run(ctx, func(ctx context.Context, ev ChangeEvent) error {
		return w.ProcessPath(ctx, ev.Path)
	})
}

// ProcessPath classifies path against Tracker and, for New/Changed files,
// records the new hash and invokes Handle. A deleted file (unreadable path)
// is forgotten instead. Exported so a KafkaQueue consumer can reuse the same
// classify/record/handle logic as the in-process worker pool.
func (w *Watcher) ProcessPath(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		w.Tracker.Forget(path)
		return nil
	}

	status := w.Tracker.Classify(path, content)
	if status == hashtrack.Unchanged {
		return nil
	}
	w.Tracker.Record(path, content, time.Now())

	if w.Handle == nil {
		return nil
	}
	return w.Handle(ctx, FileChange{Path: path, Content: content, Status: status})
}
