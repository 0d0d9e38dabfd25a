package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Event reports new or changed shader source.
type Event struct {
	Key     string
	Source  string
	Removed bool
	Err     error
}

// Loader reads shader source asynchronously from a file system. Results
// are published on Events and applied to a Cache using Drain.
type Loader struct {
	fsys   fs.FS
	dir    string
	logger *slog.Logger
	events chan Event

	watcher *fsnotify.Watcher
}

// NewLoader creates a loader reading from fsys, e.g. an embed.FS.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{
		fsys:   fsys,
		logger: slog.Default(),
		events: make(chan Event, 64),
	}
}

// NewDirLoader creates a loader reading from a directory on disk. Only a dir
// loader can Watch for changes.
func NewDirLoader(dir string) *Loader {
	loader := NewLoader(os.DirFS(dir))
	loader.dir = dir
	return loader
}

func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	l.logger = logger
	return l
}

func (l *Loader) Events() <-chan Event {
	return l.events
}

// Load reads the shader in the background and publishes an Event once done.
func (l *Loader) Load(key string) {
	go func() {
		l.events <- l.read(key)
	}()
}

// LoadSync reads the shader and publishes the Event before returning.
func (l *Loader) LoadSync(key string) {
	l.events <- l.read(key)
}

// Read returns the shader source without publishing an Event.
func (l *Loader) Read(key string) (string, error) {
	source, err := fs.ReadFile(l.fsys, key)
	if err != nil {
		return "", fmt.Errorf("load shader %q: %w", key, err)
	}

	return string(source), nil
}

func (l *Loader) read(key string) Event {
	source, err := l.Read(key)
	if err != nil {
		return Event{Key: key, Err: err}
	}

	return Event{Key: key, Source: source}
}

// Watch starts watching the loaders directory. Changed .wgsl files are
// loaded again, removed files are reported as removed.
func (l *Loader) Watch() error {
	if l.dir == "" {
		return errors.New("watch shaders: loader is not backed by a directory")
	}

	if l.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch shaders: %w", err)
	}

	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch shaders in %q: %w", l.dir, err)
	}

	l.watcher = watcher

	go l.watch(watcher)

	return nil
}

func (l *Loader) watch(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if !strings.HasSuffix(event.Name, ".wgsl") {
				continue
			}

			key, err := filepath.Rel(l.dir, event.Name)
			if err != nil {
				continue
			}

			key = filepath.ToSlash(key)

			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				l.logger.Info("Shader removed", slog.String("shader", key))
				l.events <- Event{Key: key, Removed: true}

			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				l.logger.Info("Shader changed", slog.String("shader", key))
				l.events <- l.read(key)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			l.logger.Warn("Shader watcher failed", slog.Any("err", err))
		}
	}
}

func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}

	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// Drain applies all events currently available without blocking and
// returns the number of events applied.
func (c *Cache) Drain(events <-chan Event) int {
	var count int

	for {
		select {
		case event := <-events:
			count++

			switch {
			case event.Err != nil:
				c.logger.Warn("Failed to load shader",
					slog.String("shader", event.Key),
					slog.Any("err", event.Err),
				)

			case event.Removed:
				c.RemoveShader(event.Key)

			default:
				c.SetShader(event.Key, event.Source)
			}

		default:
			return count
		}
	}
}
