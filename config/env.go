package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays BUILDFINDER_* variables on c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("BUILDFINDER_SNAPSHOT"); ok {
		c.SnapshotFile = v
	}
	if v, ok := EnvString("BUILDFINDER_SOURCES"); ok {
		c.SourcesFile = v
	}
	if v, ok := EnvString("BUILDFINDER_CACHE_DIR"); ok {
		c.CacheDir = v
	}
	if v, ok := EnvString("BUILDFINDER_PROXY_LIST"); ok {
		c.ProxyListURL = v
	}
	if v, ok := EnvString("BUILDFINDER_SESSION"); ok {
		c.SessionMode = strings.ToLower(v)
	}
	if v, ok := EnvString("BUILDFINDER_POLICY"); ok {
		c.Policy = strings.ToLower(v)
	}
	if v, ok := EnvString("BUILDFINDER_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok, err := EnvDuration("BUILDFINDER_CACHE_TTL"); err != nil {
		return err
	} else if ok {
		c.CacheTTL = v
	}
	if v, ok, err := EnvDuration("BUILDFINDER_UPDATE_INTERVAL"); err != nil {
		return err
	} else if ok {
		c.UpdateInterval = v
	}
	if v, ok, err := EnvInt("BUILDFINDER_MAX_ATTEMPTS"); err != nil {
		return err
	} else if ok {
		c.MaxAttempts = v
	}
	if v, ok, err := EnvBool("BUILDFINDER_PARALLEL"); err != nil {
		return err
	} else if ok {
		c.Parallel = v
	}
	return nil
}
