// Package config loads cache settings from YAML and turns them into
// nemocache.Options.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"

	"github.com/unkn0wn-root/nemocache/registry"
)

// Config is one cache instance plus the clusters it may use.
type Config struct {
	Namespace string `yaml:"namespace" validate:"nonzero"`
	Disabled  bool   `yaml:"disabled"`

	// Cluster names the entry of Clusters used as the remote tier.
	Cluster    string                          `yaml:"cluster" validate:"nonzero"`
	Credential string                          `yaml:"credential"`
	Clusters   map[string]registry.ClusterSpec `yaml:"clusters"`

	Expiration ExpirationConfig `yaml:"expiration"`
	StaleAware bool             `yaml:"stale_aware"`
	StaleAfter time.Duration    `yaml:"stale_after"`

	Lock      LockConfig  `yaml:"lock"`
	Write     WriteConfig `yaml:"write"`
	Local     LocalConfig `yaml:"local"`
	Codec     CodecConfig `yaml:"codec"`
	Revisions string      `yaml:"revisions" validate:"regexp=^(remote|local)?$"`

	Parallelism         int `yaml:"parallelism" validate:"min=0"`
	MaxRevisionAttempts int `yaml:"max_revision_attempts" validate:"min=0"`
}

type ExpirationConfig struct {
	// Mode: never (default), absolute, time_of_day, after or sliding.
	Mode string `yaml:"mode" validate:"regexp=^(never|absolute|time_of_day|after|sliding)?$"`
	// After is the span of after and sliding.
	After time.Duration `yaml:"after"`
	// At is an RFC 3339 deadline for absolute.
	At string `yaml:"at"`
	// TimeOfDay is a daily "15:04:05" cutoff in local time.
	TimeOfDay string `yaml:"time_of_day"`
}

type LockConfig struct {
	TimeoutSeconds int           `yaml:"timeout_seconds" validate:"min=0"`
	Verify         bool          `yaml:"verify"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

type WriteConfig struct {
	Mode    string `yaml:"mode" validate:"regexp=^(async|sync)?$"`
	Workers int    `yaml:"workers" validate:"min=0"`
	Queue   int    `yaml:"queue" validate:"min=0"`
}

type LocalConfig struct {
	Kind          string        `yaml:"kind" validate:"regexp=^(memory|ristretto|bigcache)?$"`
	MaxEntries    int           `yaml:"max_entries" validate:"min=0"`
	CleanInterval time.Duration `yaml:"clean_interval"`
	// ristretto
	MaxCost int64 `yaml:"max_cost" validate:"min=0"`
	Metrics bool  `yaml:"metrics"`
	// bigcache
	LifeWindow time.Duration `yaml:"life_window"`
	Shards     int           `yaml:"shards" validate:"min=0"`
}

type CodecConfig struct {
	// Compress wraps the value codec in LZ4.
	Compress bool `yaml:"compress"`
	MinSize  int  `yaml:"min_size" validate:"min=0"`
	// MaxValueBytes rejects larger encoded or decoded values (0 = unlimited).
	MaxValueBytes int `yaml:"max_value_bytes" validate:"min=0"`
}

// ValidationError is returned when a configuration fails validation.
type ValidationError struct {
	errorMap validator.ErrorMap
}

// ErrForField returns the validation error for the given field.
func (e ValidationError) ErrForField(name string) error {
	return e.errorMap[name]
}

func (e ValidationError) Error() string {
	var w bytes.Buffer

	fields := make([]string, 0, len(e.errorMap))
	for f := range e.errorMap {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	fmt.Fprintf(&w, "validation failed")
	for _, f := range fields {
		fmt.Fprintf(&w, "\n   %s: %v", f, e.errorMap[f])
	}
	return w.String()
}

// Load reads configFiles in order, merging later files over earlier ones, and
// validates the result.
func Load(configFiles ...string) (Config, error) {
	var cfg Config
	if len(configFiles) == 0 {
		return cfg, errors.New("config: no files to load")
	}
	for _, fname := range configFiles {
		data, err := os.ReadFile(fname)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", fname, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks field rules and cross-field constraints.
func (c Config) Validate() error {
	if err := validate(c); err != nil {
		return err
	}
	names := make([]string, 0, len(c.Clusters))
	for name := range c.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := validate(c.Clusters[name]); err != nil {
			return fmt.Errorf("config: cluster %q: %w", name, err)
		}
	}
	if _, ok := c.Clusters[c.Cluster]; !ok {
		return fmt.Errorf("config: cluster %q is not defined", c.Cluster)
	}
	if _, err := c.Expiration.policy(); err != nil {
		return err
	}
	return nil
}

func validate(v any) error {
	err := validator.Validate(v)
	if err == nil {
		return nil
	}
	if em, ok := err.(validator.ErrorMap); ok {
		return ValidationError{errorMap: em}
	}
	return err
}
