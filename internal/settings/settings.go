// Package settings resolves per-recipient notification preferences.
package settings

import (
	"context"
	"errors"
	"strings"
	"sync"

	"calalarm/internal/model"
)

// ErrNotFound is returned for recipients without stored settings.
var ErrNotFound = errors.New("settings: recipient not found")

// Settings are the preferences applied when notifying one recipient.
type Settings struct {
	Locale        string `yaml:"locale" json:"locale"`
	Timezone      string `yaml:"timezone" json:"timezone"`
	AlarmsEnabled bool   `yaml:"alarms_enabled" json:"alarms_enabled"`
}

// Default is used whenever a recipient's settings cannot be resolved.
var Default = Settings{Locale: "en", Timezone: "UTC", AlarmsEnabled: true}

// Resolver looks up the settings of a recipient by mail address.
type Resolver interface {
	Resolve(ctx context.Context, recipient string) (Settings, error)
}

// Static resolves from a fixed map. Keys are normalized on construction.
type Static struct {
	mu    sync.RWMutex
	byKey map[string]Settings
}

func NewStatic(m map[string]Settings) *Static {
	s := &Static{byKey: make(map[string]Settings, len(m))}
	for k, v := range m {
		s.byKey[model.NormalizeAddress(k)] = v
	}
	return s
}

func (s *Static) Resolve(_ context.Context, recipient string) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byKey[model.NormalizeAddress(recipient)]
	if !ok {
		return Settings{}, ErrNotFound
	}
	return v, nil
}

// Set stores or replaces the settings of recipient.
func (s *Static) Set(recipient string, v Settings) {
	s.mu.Lock()
	s.byKey[model.NormalizeAddress(recipient)] = v
	s.mu.Unlock()
}

// WithDefaults fills empty fields of v from def.
func WithDefaults(v, def Settings) Settings {
	if strings.TrimSpace(v.Locale) == "" {
		v.Locale = def.Locale
	}
	if strings.TrimSpace(v.Timezone) == "" {
		v.Timezone = def.Timezone
	}
	return v
}
