package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeSingle, cfg.Scheduler.Mode)
	require.Equal(t, DefaultPollInterval, cfg.Scheduler.PollInterval)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Scheduler, again.Scheduler)
	require.Equal(t, cfg.Mail, again.Mail)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  mode: cluster
  poll_interval: 10s
  lease_ttl: 1m
  overlap: DELAY
mail:
  from: calendar@example.com
feeds:
  - id: team
    url: https://example.com/team.ics
    attendees: [bob@example.com]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeCluster, cfg.Scheduler.Mode)
	require.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval)
	require.Less(t, cfg.Scheduler.LeaseTTL, cfg.Scheduler.PollInterval)
	require.Equal(t, OverlapDelay, cfg.Scheduler.Overlap)
	require.Equal(t, DefaultBatchSize, cfg.Scheduler.BatchSize)
	require.Equal(t, DefaultHorizon, cfg.Scheduler.Horizon)
	require.Equal(t, "en", cfg.Settings.DefaultLocale)
	require.Len(t, cfg.Feeds, 1)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown mode":      "scheduler:\n  mode: sometimes\n",
		"unknown tls":       "mail:\n  tls: maybe\n",
		"bad timezone":      "settings:\n  default_timezone: Mars/Olympus\n",
		"feed without url":  "feeds:\n  - id: x\n    attendees: [a@example.com]\n",
		"feed without user": "feeds:\n  - id: x\n    url: https://example.com/x.ics\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestSaveRoundTripsDurations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Scheduler.ItemDelay = 250 * time.Millisecond
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "item_delay: 250ms")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, loaded.Scheduler.ItemDelay)
}
