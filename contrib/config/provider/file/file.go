// Package file implements a config.Source backed by a single YAML or JSON
// file on disk, watched for changes with fsnotify (the SPEC_FULL ambient
// config layer's hot-reload path, extending the teacher's SIGHUP-only
// config.tick()).
package file

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/omalloc/blockcache/contrib/config"
	"github.com/omalloc/blockcache/contrib/log"
)

type source struct {
	path string
}

// NewSource returns a config.Source that reads path once per Load and
// emits a fsnotify-driven Watcher for it. The file format (yaml vs json)
// is inferred from its extension; anything not ".json" is treated as YAML.
func NewSource(path string) config.Source {
	return &source{path: path}
}

func (s *source) format() string {
	if strings.EqualFold(filepath.Ext(s.path), ".json") {
		return "json"
	}
	return "yaml"
}

func (s *source) Load() ([]*config.KeyValue, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return []*config.KeyValue{{
		Key:    s.path,
		Value:  data,
		Format: s.format(),
	}}, nil
}

func (s *source) Watch() (config.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, err
	}
	return &watcher{fsw: w, path: s.path}, nil
}

type watcher struct {
	fsw  *fsnotify.Watcher
	path string
}

func (w *watcher) Next() ([]*config.KeyValue, error) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil, os.ErrClosed
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			return nil, nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil, os.ErrClosed
			}
			log.Errorf("[config] fsnotify watch %s: %v", w.path, err)
		}
	}
}

func (w *watcher) Stop() error {
	return w.fsw.Close()
}
