package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	appLog "calalarm/internal/log"
	"calalarm/internal/model"
)

const reloadDebounce = 250 * time.Millisecond

// fileEntry keeps AlarmsEnabled optional so omitted keys mean enabled.
type fileEntry struct {
	Locale        string `yaml:"locale"`
	Timezone      string `yaml:"timezone"`
	AlarmsEnabled *bool  `yaml:"alarms_enabled"`
}

type fileDoc struct {
	Recipients map[string]fileEntry `yaml:"recipients"`
}

// File resolves settings from a YAML document of the form
//
//	recipients:
//	  bob@example.com:
//	    locale: fr
//	    timezone: Europe/Paris
//	    alarms_enabled: false
//
// Missing fields take the values of the defaults passed to NewFile.
type File struct {
	path string
	def  Settings

	mu    sync.RWMutex
	byKey map[string]Settings
}

// NewFile loads path. The file must exist and parse.
func NewFile(path string, def Settings) (*File, error) {
	f := &File{path: path, def: def}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Resolve(_ context.Context, recipient string) (Settings, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.byKey[model.NormalizeAddress(recipient)]
	if !ok {
		return Settings{}, ErrNotFound
	}
	return v, nil
}

// Reload re-reads the file. On error the previous contents stay in effect.
func (f *File) Reload() error {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", f.path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("settings: parse %s: %w", f.path, err)
	}
	byKey := make(map[string]Settings, len(doc.Recipients))
	for addr, e := range doc.Recipients {
		v := WithDefaults(Settings{Locale: e.Locale, Timezone: e.Timezone, AlarmsEnabled: true}, f.def)
		if e.AlarmsEnabled != nil {
			v.AlarmsEnabled = *e.AlarmsEnabled
		}
		byKey[model.NormalizeAddress(addr)] = v
	}

	f.mu.Lock()
	f.byKey = byKey
	f.mu.Unlock()
	return nil
}

// Watch reloads the file whenever it changes, until ctx is done. The watcher
// is registered before Watch returns.
func (f *File) Watch(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	file := filepath.Base(f.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watch: %w", err)
	}
	// Watch the directory; editors often replace the file by rename.
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("settings: watch %s: %w", dir, err)
	}
	appLog.Debug("settings watcher started", "path", f.path)

	go func() {
		defer w.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		reload := func() {
			if err := f.Reload(); err != nil {
				appLog.Warn("settings reload failed; keeping previous", "path", f.path, "err", err)
				return
			}
			appLog.Info("settings reloaded", "path", f.path)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				appLog.Warn("settings watch error", "path", f.path, "err", err)
			}
		}
	}()
	return nil
}
