// Package config implements the layered configuration lookup: process
// environment, then the [main] section of an INI file, with section-scoped
// overrides (e.g. "fs:<dataset>") checked first when a section is given.
// This mirrors the original OnionDict fallback chain.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

const (
	packageConfigPath = "z3.conf"
	systemConfigPath  = "/etc/z3_backup/z3.conf"
)

// Defaults holds the recognised keys' documented default values.
var Defaults = map[string]string{
	"S3_PREFIX":        "z3-backup/",
	"SNAPSHOT_PREFIX":  "zfs-auto-snap:daily",
	"S3_STORAGE_CLASS": "STANDARD_IA",
	"MAX_RETRIES":      "3",
	"CONCURRENCY":      "4",
}

// Config is the resolved, layered configuration.
type Config struct {
	env      map[string]string
	main     map[string]string
	sections map[string]map[string]string
}

var (
	once     sync.Once
	instance *Config
	loadErr  error
)

// Get returns the process-wide configuration singleton, loading it from the
// environment and the layered INI files on first use.
func Get() (*Config, error) {
	once.Do(func() {
		instance, loadErr = load(packageConfigPath, systemConfigPath)
	})
	return instance, loadErr
}

func load(paths ...string) (*Config, error) {
	cfg := ini.Empty()
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := cfg.Append(p); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", p, err)
		}
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}

	main := make(map[string]string)
	if sec, err := cfg.GetSection("main"); err == nil {
		for _, k := range sec.Keys() {
			main[strings.ToUpper(k.Name())] = k.Value()
		}
	}

	sections := make(map[string]map[string]string)
	for _, sec := range cfg.Sections() {
		if sec.Name() == "main" || sec.Name() == ini.DefaultSection {
			continue
		}
		m := make(map[string]string)
		for _, k := range sec.Keys() {
			m[strings.ToUpper(k.Name())] = k.Value()
		}
		sections[sec.Name()] = m
	}

	return &Config{env: env, main: main, sections: sections}, nil
}

// Lookup resolves key, checking section (if non-empty) first, then the
// process environment, then the [main] section.
func (c *Config) Lookup(key, section string) (string, bool) {
	if section != "" {
		if sec, ok := c.sections[section]; ok {
			if v, ok := sec[key]; ok {
				return v, true
			}
		}
	}
	if v, ok := c.env[key]; ok {
		return v, true
	}
	if v, ok := c.main[key]; ok {
		return v, true
	}
	return "", false
}

// LookupDefault is Lookup with a fallback to Defaults, then def.
func (c *Config) LookupDefault(key, section, def string) string {
	if v, ok := c.Lookup(key, section); ok {
		return v
	}
	if v, ok := Defaults[key]; ok {
		return v
	}
	return def
}
