// Package config loads rquery's process-wide defaults from environment
// variables and an optional YAML override file: a literal Default(),
// overridden field-by-field by LoadFromEnv, further overridden by an
// optional YAML file via gopkg.in/yaml.v3.
//
// Environment variables use a single RQUERY_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults holds the process-wide option defaults new queries are created
// with when the caller doesn't override them.
type Defaults struct {
	StaleTime                time.Duration `yaml:"staleTime"`
	CacheTime                time.Duration `yaml:"cacheTime"`
	RefetchOnMount           bool          `yaml:"refetchOnMount"`
	RefetchOnWindowFocus     bool          `yaml:"refetchOnWindowFocus"`
	RefetchOnAppFocus        bool          `yaml:"refetchOnAppFocus"`
	PauseRefetchInBackground bool          `yaml:"pauseRefetchInBackground"`
	Retry                    int           `yaml:"retry"`
	RetryDelay               time.Duration `yaml:"retryDelay"`
	Enabled                  bool          `yaml:"enabled"`
	KeepPreviousData         bool          `yaml:"keepPreviousData"`

	MaxCacheSize   int  `yaml:"maxCacheSize"`
	DebugTypeCheck bool `yaml:"debugTypeCheck"`
}

// Default returns the library's baseline defaults.
func Default() Defaults {
	return Defaults{
		StaleTime:                5 * time.Minute,
		CacheTime:                30 * time.Minute,
		RefetchOnMount:           true,
		RefetchOnWindowFocus:     false,
		RefetchOnAppFocus:        true,
		PauseRefetchInBackground: true,
		Retry:                    3,
		RetryDelay:               1 * time.Second,
		Enabled:                  true,
		KeepPreviousData:         false,
		MaxCacheSize:             100,
		DebugTypeCheck:           false,
	}
}

// LoadFromEnv starts from Default() and overrides any field whose
// environment variable is set.
//
// Recognised variables:
//
//	RQUERY_STALE_TIME, RQUERY_CACHE_TIME, RQUERY_REFETCH_ON_MOUNT,
//	RQUERY_REFETCH_ON_WINDOW_FOCUS, RQUERY_REFETCH_ON_APP_FOCUS,
//	RQUERY_PAUSE_REFETCH_IN_BACKGROUND, RQUERY_RETRY, RQUERY_RETRY_DELAY,
//	RQUERY_ENABLED, RQUERY_KEEP_PREVIOUS_DATA, RQUERY_MAX_CACHE_SIZE,
//	RQUERY_DEBUG_TYPE_CHECK
func LoadFromEnv() Defaults {
	d := Default()

	if v, ok := durationEnv("RQUERY_STALE_TIME"); ok {
		d.StaleTime = v
	}
	if v, ok := durationEnv("RQUERY_CACHE_TIME"); ok {
		d.CacheTime = v
	}
	if v, ok := boolEnv("RQUERY_REFETCH_ON_MOUNT"); ok {
		d.RefetchOnMount = v
	}
	if v, ok := boolEnv("RQUERY_REFETCH_ON_WINDOW_FOCUS"); ok {
		d.RefetchOnWindowFocus = v
	}
	if v, ok := boolEnv("RQUERY_REFETCH_ON_APP_FOCUS"); ok {
		d.RefetchOnAppFocus = v
	}
	if v, ok := boolEnv("RQUERY_PAUSE_REFETCH_IN_BACKGROUND"); ok {
		d.PauseRefetchInBackground = v
	}
	if v, ok := intEnv("RQUERY_RETRY"); ok {
		d.Retry = v
	}
	if v, ok := durationEnv("RQUERY_RETRY_DELAY"); ok {
		d.RetryDelay = v
	}
	if v, ok := boolEnv("RQUERY_ENABLED"); ok {
		d.Enabled = v
	}
	if v, ok := boolEnv("RQUERY_KEEP_PREVIOUS_DATA"); ok {
		d.KeepPreviousData = v
	}
	if v, ok := intEnv("RQUERY_MAX_CACHE_SIZE"); ok {
		d.MaxCacheSize = v
	}
	if v, ok := boolEnv("RQUERY_DEBUG_TYPE_CHECK"); ok {
		d.DebugTypeCheck = v
	}

	return d
}

// LoadFile layers a YAML override file on top of base.
func LoadFile(path string, base Defaults) (Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return base, nil
}

func durationEnv(name string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

func boolEnv(name string) (bool, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}

func intEnv(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
