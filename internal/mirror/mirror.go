// Package mirror pushes Turtle files from a local directory into a pod
// folder, once or continuously as the files change.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// DefaultDebounce is how long a file must stay quiet before it is pushed.
const DefaultDebounce = 500 * time.Millisecond

// Uploader stores a document in a pod folder. pod.Gateway satisfies it.
type Uploader interface {
	UpdateDocument(ctx context.Context, folder, name, content string) error
}

// Options configure a Mirror.
type Options struct {
	// Debounce is the quiet period before a changed file is pushed.
	Debounce time.Duration

	// OnPush is called after every push attempt.
	OnPush func(name string, err error)

	Logger *slog.Logger
}

// Mirror pushes the eligible files of dir into folder.
type Mirror struct {
	up       Uploader
	folder   string
	dir      string
	debounce time.Duration
	onPush   func(string, error)
	logger   *slog.Logger

	// newWatcher is replaced in tests.
	newWatcher func() (watcher, error)
}

// New returns a Mirror for dir and folder.
func New(up Uploader, folder, dir string, opts Options) *Mirror {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	onPush := opts.OnPush
	if onPush == nil {
		onPush = func(string, error) {}
	}

	return &Mirror{
		up:         up,
		folder:     folder,
		dir:        dir,
		debounce:   debounce,
		onPush:     onPush,
		logger:     logger,
		newWatcher: newFsWatcher,
	}
}

// Eligible reports whether a file name is pushed: Turtle files that are
// not hidden, editor temporaries, or partial writes.
func Eligible(name string) bool {
	lower := strings.ToLower(name)

	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return false
	}

	for _, suffix := range []string{".tmp", ".swp", ".partial"} {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}

	return strings.HasSuffix(lower, ".ttl")
}

// PushAll uploads every eligible regular file in dir (not recursive) and
// returns how many were pushed. It stops at the first failure.
func (m *Mirror) PushAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("mirror: reading %s: %w", m.dir, err)
	}

	pushed := 0

	for _, e := range entries {
		if !e.Type().IsRegular() || !Eligible(e.Name()) {
			continue
		}

		if err := m.push(ctx, e.Name()); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return pushed, err
		}

		pushed++
	}

	return pushed, nil
}

func (m *Mirror) push(ctx context.Context, name string) error {
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		err = fmt.Errorf("mirror: reading %s: %w", name, err)

		// A file removed after it was seen is skipped, not failed.
		if !errors.Is(err, os.ErrNotExist) {
			m.onPush(name, err)
		}

		return err
	}

	doc := norm.NFC.String(name)

	err = m.up.UpdateDocument(ctx, m.folder, doc, string(data))
	m.onPush(doc, err)

	if err != nil {
		return fmt.Errorf("mirror: pushing %s: %w", name, err)
	}

	m.logger.Info("pushed document",
		slog.String("folder", m.folder),
		slog.String("name", doc),
		slog.Int("bytes", len(data)),
	)

	return nil
}

// Watch pushes eligible files as they are created or written, until ctx
// is done. Push failures are logged and reported through OnPush; they do
// not stop the watch.
func (m *Mirror) Watch(ctx context.Context) error {
	w, err := m.newWatcher()
	if err != nil {
		return fmt.Errorf("mirror: creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(m.dir); err != nil {
		return fmt.Errorf("mirror: watching %s: %w", m.dir, err)
	}

	m.logger.Info("watching directory", slog.String("dir", m.dir), slog.String("folder", m.folder))

	dirty := make(map[string]struct{})

	timer := time.NewTimer(m.debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}

			if name, changed := m.changed(ev); changed {
				dirty[name] = struct{}{}
				timer.Reset(m.debounce)
			}

		case werr, ok := <-w.Errors():
			if !ok {
				return nil
			}

			m.logger.Warn("filesystem watcher error", slog.String("error", werr.Error()))

		case <-timer.C:
			m.flush(ctx, dirty)
		}
	}
}

// changed returns the file name of ev when it is a content change to an
// eligible file directly inside dir.
func (m *Mirror) changed(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}

	if filepath.Dir(ev.Name) != filepath.Clean(m.dir) {
		return "", false
	}

	name := filepath.Base(ev.Name)
	if !Eligible(name) {
		return "", false
	}

	return name, true
}

func (m *Mirror) flush(ctx context.Context, dirty map[string]struct{}) {
	names := make([]string, 0, len(dirty))
	for n := range dirty {
		names = append(names, n)
	}

	slices.Sort(names)
	clear(dirty)

	for _, name := range names {
		if err := m.push(ctx, name); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				m.logger.Debug("changed file vanished before push", slog.String("name", name))
				continue
			}

			m.logger.Warn("push failed", slog.String("name", name), slog.String("error", err.Error()))
		}
	}
}

// watcher is the subset of *fsnotify.Watcher the mirror uses.
type watcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsWatcher struct {
	w *fsnotify.Watcher
}

func newFsWatcher() (watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsWatcher{w: w}, nil
}

func (f *fsWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsWatcher) Close() error                  { return f.w.Close() }
func (f *fsWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsWatcher) Errors() <-chan error          { return f.w.Errors }
