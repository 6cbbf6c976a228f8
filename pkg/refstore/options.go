package refstore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/eigerco/refstore/internal/handles"
	"github.com/eigerco/refstore/pkg/db/pebble"
)

// Options configure a database handle.
type Options struct {
	InMemory      bool   `json:"in_memory"`
	CacheSize     int64  `json:"cache_size"`
	MemTableSize  uint64 `json:"memtable_size"`
	MaxOpenFiles  int    `json:"max_open_files"`
	ErrorIfExists bool   `json:"error_if_exists"`
	ReadOnly      bool   `json:"read_only"`

	// RefreshWindowSeconds bounds how long an iterator may pin one snapshot.
	RefreshWindowSeconds int `json:"refresh_window_seconds"`
	// ReportIntervalSeconds is how often long lived iterators are logged.
	ReportIntervalSeconds int `json:"report_interval_seconds"`
}

func DefaultOptions() Options {
	engine := pebble.DefaultOptions()
	return Options{
		CacheSize:             engine.CacheSize,
		MemTableSize:          engine.MemTableSize,
		MaxOpenFiles:          engine.MaxOpenFiles,
		RefreshWindowSeconds:  int(handles.DefaultRefreshWindow / time.Second),
		ReportIntervalSeconds: int(handles.DefaultReportInterval / time.Second),
	}
}

func (o Options) engineOptions() pebble.Options {
	return pebble.Options{
		InMemory:      o.InMemory,
		CacheSize:     o.CacheSize,
		MemTableSize:  o.MemTableSize,
		MaxOpenFiles:  o.MaxOpenFiles,
		ErrorIfExists: o.ErrorIfExists,
		ReadOnly:      o.ReadOnly,
	}
}

func (o Options) handleConfig() handles.Config {
	cfg := handles.DefaultConfig()
	if o.RefreshWindowSeconds > 0 {
		cfg.RefreshWindow = time.Duration(o.RefreshWindowSeconds) * time.Second
	}
	if o.ReportIntervalSeconds > 0 {
		cfg.ReportInterval = time.Duration(o.ReportIntervalSeconds) * time.Second
	}
	return cfg
}

// ReadOptions configure an iterator. Bounds are nil for unbounded; in JSON
// they are base64 encoded.
type ReadOptions struct {
	LowerBound []byte `json:"lower_bound,omitempty"`
	UpperBound []byte `json:"upper_bound,omitempty"`
	// Refresh moves a long lived iterator onto a newer snapshot once the
	// refresh window has passed, keeping its position.
	Refresh bool `json:"iterator_refresh"`
}

func DefaultReadOptions() ReadOptions {
	return ReadOptions{Refresh: true}
}

func (o ReadOptions) handleOptions(keysOnly bool) handles.ReadOptions {
	return handles.ReadOptions{
		LowerBound: o.LowerBound,
		UpperBound: o.UpperBound,
		KeysOnly:   keysOnly,
		Refresh:    o.Refresh,
	}
}

// Config is the on-disk configuration of a host.
type Config struct {
	Path            string      `json:"path"`
	Database        Options     `json:"database"`
	Read            ReadOptions `json:"read"`
	PrefetchWorkers int         `json:"prefetch_workers"`
	LogLevel        string      `json:"log_level"`
	JSONLogs        bool        `json:"json_logs"`
}

func DefaultConfig() Config {
	return Config{
		Database:        DefaultOptions(),
		Read:            DefaultReadOptions(),
		PrefetchWorkers: 4,
		LogLevel:        "info",
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
