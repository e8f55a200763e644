package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"gopkg.in/yaml.v3"
)

// fileDoc is the on-disk layout:
//
//	binding: browser
//	url: https://cmis.example.com/browser
//	services:
//	  object: https://cmis.example.com/browser/object
type fileDoc struct {
	Binding  string            `yaml:"binding"`
	URL      string            `yaml:"url"`
	Services map[string]string `yaml:"services"`
}

type fileState struct {
	binding  string
	fallback string
	services map[cmis.LogicalService]string
}

// File is a Source backed by a YAML document that can be reloaded while in
// use. Lookups always see the most recently loaded document.
type File struct {
	path string
	log  *slog.Logger

	mu    sync.RWMutex
	state fileState
}

// FileOption configures a File.
type FileOption func(*File)

// WithLogger sets the logger used to report reloads.
func WithLogger(l *slog.Logger) FileOption {
	return func(f *File) { f.log = l }
}

// LoadFile reads and validates the document at path.
func LoadFile(path string, opts ...FileOption) (*File, error) {
	f := &File{path: path, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(f)
	}
	st, err := readFile(path)
	if err != nil {
		return nil, err
	}
	f.state = st
	return f, nil
}

func readFile(path string) (fileState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, fmt.Errorf("read config: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fileState{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	st := fileState{
		binding:  doc.Binding,
		fallback: doc.URL,
		services: make(map[cmis.LogicalService]string, len(doc.Services)),
	}
	for key, u := range doc.Services {
		svc, err := cmis.ParseLogicalService(key)
		if err != nil {
			return fileState{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		st.services[svc] = u
	}
	return st, nil
}

func (f *File) Endpoint(svc cmis.LogicalService) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return lookup(svc, f.state.services, f.state.fallback)
}

// Binding returns the binding name declared in the document, if any.
func (f *File) Binding() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.binding
}

// Reload re-reads the document. On failure the previous document stays in
// effect.
func (f *File) Reload() error {
	st, err := readFile(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	return nil
}

// Watch reloads the document whenever it changes on disk until ctx is
// cancelled. onChange, if non-nil, runs after each successful reload. The
// parent directory is watched so editors that replace the file are handled.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	name := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create)) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.log.Warn("config.reload.fail", slog.String("path", f.path), slog.String("err", err.Error()))
				continue
			}
			f.log.Info("config.reload.ok", slog.String("path", f.path))
			if onChange != nil {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("config.watch.error", slog.String("err", err.Error()))
		}
	}
}
