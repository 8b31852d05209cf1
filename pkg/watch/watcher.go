// Package watch converts CSV files as they land in an inbox directory.
//
// Create and write events are debounced per path so a file is converted once
// its writer goes quiet. An optional cron schedule sweeps the inbox to pick up
// files whose events were missed, and the job ledger keeps unchanged files
// from being converted twice.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/ssargent/stdfconv/pkg/convert"
	"github.com/ssargent/stdfconv/pkg/ledger"
	"github.com/ssargent/stdfconv/pkg/logger"
	"github.com/ssargent/stdfconv/pkg/metrics"
)

// DefaultDebounce is the quiet period used when Config.Debounce is zero
const DefaultDebounce = 500 * time.Millisecond

// Config holds watch mode settings
type Config struct {
	Inbox     string
	OutputDir string
	Debounce  time.Duration
	Sweep     string // cron spec, e.g. "@every 5m"; empty disables sweeping
	Compress  bool   // plan .stdf.gz outputs
}

// History answers whether an input was already converted
type History interface {
	LookupFingerprint(fp uint64) (*ledger.Entry, bool, error)
}

// Event reports what happened to one inbox file
type Event struct {
	Path    string
	Result  *convert.Result
	Err     error
	Skipped bool
}

// Option configures a Watcher
type Option func(*Watcher)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetrics counts skipped files
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithHistory enables skipping of inputs that were already converted
func WithHistory(h History) Option {
	return func(w *Watcher) { w.history = h }
}

// WithNotify calls fn after every processed file
func WithNotify(fn func(Event)) Option {
	return func(w *Watcher) { w.notify = fn }
}

// Watcher converts inbox files with a convert.JobRunner
type Watcher struct {
	cfg     Config
	runner  convert.JobRunner
	history History
	metrics *metrics.Metrics
	log     logger.Logger
	notify  func(Event)

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]bool
	pending  map[string]bool
	closed   bool
	wg       sync.WaitGroup
}

// New validates cfg and creates a Watcher
func New(cfg Config, runner convert.JobRunner, opts ...Option) (*Watcher, error) {
	if cfg.Inbox == "" {
		return nil, errors.New("watch: inbox directory is required")
	}
	info, err := os.Stat(cfg.Inbox)
	if err != nil {
		return nil, errors.Wrap(err, "watch: inbox")
	}
	if !info.IsDir() {
		return nil, errors.Newf("watch: inbox %s is not a directory", cfg.Inbox)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.Inbox
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	w := &Watcher{
		cfg:      cfg,
		runner:   runner,
		log:      logger.Discard(),
		timers:   make(map[string]*time.Timer),
		inflight: make(map[string]bool),
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches the inbox until ctx is cancelled. Files already in the inbox
// are swept once at startup. Conversions in progress finish before Run
// returns.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.Inbox); err != nil {
		return errors.Wrapf(err, "watch %s", w.cfg.Inbox)
	}

	if w.cfg.Sweep != "" {
		sched := cron.New()
		if _, err := sched.AddFunc(w.cfg.Sweep, func() { w.Sweep(ctx) }); err != nil {
			return errors.Wrapf(err, "invalid sweep schedule %q", w.cfg.Sweep)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	w.log.Info("watching inbox", "inbox", w.cfg.Inbox, "output_dir", w.cfg.OutputDir, "debounce", w.cfg.Debounce, "sweep", w.cfg.Sweep)
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				w.shutdown()
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isCSV(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.shutdown()
				return nil
			}
			w.log.Warn("file watcher error", "error", err)
		}
	}
}

// Sweep processes every CSV file currently in the inbox
func (w *Watcher) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Inbox)
	if err != nil {
		w.log.Error("sweep inbox", "error", err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.Type().IsRegular() && isCSV(e.Name()) {
			w.process(ctx, filepath.Join(w.cfg.Inbox, e.Name()))
		}
	}
}

// schedule (re)starts the debounce timer for path
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}

	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.cfg.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.process(ctx, path)
	})
	w.timers[path] = t
}

// process converts path, at most once at a time per path. A request that
// arrives while the path is being converted reruns it afterwards.
func (w *Watcher) process(ctx context.Context, path string) {
	w.mu.Lock()
	if w.inflight[path] {
		w.pending[path] = true
		w.mu.Unlock()
		return
	}
	w.inflight[path] = true
	w.mu.Unlock()

	for {
		if ctx.Err() == nil {
			w.convertOne(ctx, path)
		}

		w.mu.Lock()
		if !w.pending[path] || ctx.Err() != nil {
			delete(w.inflight, path)
			delete(w.pending, path)
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.mu.Unlock()
	}
}

func (w *Watcher) convertOne(ctx context.Context, path string) {
	log := w.log.With("input", path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Debug("file vanished before conversion")
		return
	}

	jobs, err := convert.PlanJobs([]string{path}, w.cfg.OutputDir, "", w.cfg.Compress)
	if err != nil {
		w.emit(Event{Path: path, Err: err})
		return
	}
	job := jobs[0]

	if w.history != nil {
		skip, err := w.alreadyConverted(job)
		if err != nil {
			log.Warn("ledger lookup failed", "error", err)
		}
		if skip {
			log.Debug("input unchanged since last conversion")
			w.metrics.ObserveJob(metrics.StatusSkipped, 0)
			w.emit(Event{Path: path, Skipped: true})
			return
		}
	}

	res, err := w.runner.ConvertFile(ctx, job)
	w.emit(Event{Path: path, Result: res, Err: err})
}

func (w *Watcher) alreadyConverted(job convert.Job) (bool, error) {
	fp, err := ledger.FingerprintFile(job.Input)
	if err != nil {
		return false, err
	}
	entry, found, err := w.history.LookupFingerprint(fp)
	if err != nil || !found {
		return false, err
	}
	if entry.Output != job.Output {
		return false, nil
	}
	_, statErr := os.Stat(entry.Output)
	return statErr == nil, nil
}

func (w *Watcher) emit(e Event) {
	if w.notify != nil {
		w.notify(e)
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func isCSV(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".csv") && !strings.HasPrefix(base, ".")
}
