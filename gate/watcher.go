package gate

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentrt/internal/obslog"
)

// LoadBundleFile parses a PolicyBundle from a YAML file and validates it.
func LoadBundleFile(path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy bundle %q: %w", path, err)
	}
	var bundle PolicyBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse policy bundle %q: %w", path, err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy bundle %q: %w", path, err)
	}
	return &bundle, nil
}

// Watcher watches a policy bundle file on disk and atomically swaps the
// Gate's active bundle whenever it changes, per §5's "reloading atomically
// swaps the bundle pointer". A malformed reload is logged and ignored; the
// previously loaded bundle stays active.
type Watcher struct {
	path   string
	gate   *Gate
	fsw    *fsnotify.Watcher
	log    *slog.Logger
	closed chan struct{}
}

// NewWatcher loads path once (failing fast on a malformed initial bundle),
// installs it on g, and begins watching for subsequent writes.
func NewWatcher(path string, g *Gate) (*Watcher, error) {
	bundle, err := LoadBundleFile(path)
	if err != nil {
		return nil, err
	}
	g.SetBundle(bundle)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch policy bundle %q: %w", path, err)
	}

	return &Watcher{path: path, gate: g, fsw: fsw, log: obslog.New("gate.watcher"), closed: make(chan struct{})}, nil
}

// Run processes fsnotify events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closed:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("policy file watch error", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) reload() {
	bundle, err := LoadBundleFile(w.path)
	if err != nil {
		w.log.Warn("policy bundle reload failed; keeping previous bundle", "path", w.path, "err", err)
		return
	}
	w.gate.SetBundle(bundle)
	w.log.Info("policy bundle reloaded", "path", w.path)
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
}
