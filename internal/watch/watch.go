// Package watch turns filesystem activity under the transcript roots into
// per-file ingestion calls. Bursts of writes to one file are debounced and
// the ingestion rate is capped so a busy agent cannot monopolise the
// writer.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zulandar/sessionyard/internal/collector"
	"github.com/zulandar/sessionyard/internal/events"
	"golang.org/x/time/rate"
)

// Defaults for Options.
const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultRate     = 5.0
	DefaultBurst    = 5
	queueSize       = 256
)

// Handler ingests one changed file.
type Handler func(ctx context.Context, path string) error

// Options tunes a Watcher.
type Options struct {
	Debounce time.Duration
	Rate     float64 // handler calls per second
	Burst    int
	Bus      *events.Bus
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Rate <= 0 {
		o.Rate = DefaultRate
	}
	if o.Burst <= 0 {
		o.Burst = DefaultBurst
	}
	return o
}

// Watcher watches source roots and their project directories.
type Watcher struct {
	fsw     *fsnotify.Watcher
	roots   map[string]bool
	handle  Handler
	opts    Options
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

// New watches each root and every directory directly beneath it.
// Transcripts live one level down, so deeper directories are not watched.
// Roots that do not exist yet are skipped.
func New(roots []string, handle Handler, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	opts = opts.withDefaults()
	w := &Watcher{
		fsw:     fsw,
		roots:   make(map[string]bool, len(roots)),
		handle:  handle,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, queueSize),
	}

	for _, root := range roots {
		root = filepath.Clean(root)
		if _, err := os.Stat(root); err != nil {
			log.Printf("watch: skipping %s: %v", root, err)
			continue
		}
		if err := fsw.Add(root); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: add %s: %w", root, err)
		}
		w.roots[root] = true

		entries, _ := os.ReadDir(root)
		for _, e := range entries {
			if e.IsDir() {
				w.addDir(filepath.Join(root, e.Name()))
			}
		}
	}
	return w, nil
}

// Watched lists the directories currently watched.
func (w *Watcher) Watched() []string {
	return w.fsw.WatchList()
}

func (w *Watcher) addDir(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		log.Printf("watch: add %s: %v", dir, err)
	}
}

// Run processes filesystem events until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx)
	}()

	defer func() {
		w.mu.Lock()
		for p, t := range w.pending {
			t.Stop()
			delete(w.pending, p)
		}
		w.mu.Unlock()
		w.fsw.Close()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 && w.roots[filepath.Dir(ev.Name)] {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addDir(ev.Name)
			return
		}
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !collector.IsSessionFile(filepath.Base(ev.Name)) {
		return
	}
	w.debounce(ctx, ev.Name)
}

// debounce restarts path's quiet-period timer.
func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

// worker runs the handler for settled paths, one at a time, under the
// rate limit.
func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.ready:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.opts.Bus.Publish(events.Event{Type: events.TypeFileChanged, Path: path})
			if err := w.handle(ctx, path); err != nil && ctx.Err() == nil {
				log.Printf("watch: %s: %v", path, err)
			}
		}
	}
}
