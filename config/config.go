// Package config loads the core's plain-struct configuration from a YAML
// file, the way orion-prototipe's internal/config package loads camera and
// stream settings: read the file and unmarshal into a tree of tagged
// structs. Load itself applies no defaults: DispatchConfig.ToCallContext
// fills zero dispatch fields from dispatch.DefaultCallContext, lookup.NewIndex
// fills zero index fields, and capacity and error-handler fields left zero
// stay zero.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mini-rpc/coreband/capacity"
	"github.com/mini-rpc/coreband/dispatch"
	"github.com/mini-rpc/coreband/errhandler"
	"github.com/mini-rpc/coreband/lookup"
)

// Config is the top-level file shape: one fleet's dispatch policy, its
// per-backend capacity defaults, its error-handling policy, and the
// discovery index settings for the lookup-table cluster it serves.
type Config struct {
	Fleet      string           `yaml:"fleet"`
	EtcdHosts  []string         `yaml:"etcd_hosts"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Capacity   capacity.Config  `yaml:"capacity"`
	ErrHandler ErrHandlerConfig `yaml:"err_handler"`
	Index      IndexConfig      `yaml:"index"`
}

// DispatchConfig mirrors dispatch.CallContext, with Mode spelled as a YAML
// word ("courteous"/"unchecked") instead of dispatch.Mode's bare int.
type DispatchConfig struct {
	MaxRetries      uint32 `yaml:"max_retries"`
	CallWeight      uint32 `yaml:"call_weight"`
	MeasureCallTime bool   `yaml:"measure_call_time"`
	MaxTryClaim     uint32 `yaml:"max_try_claim"`
	ForceCall       bool   `yaml:"force_call"`
	Mode            string `yaml:"mode"`
}

// ToCallContext converts the YAML-friendly shape into the dispatch
// package's real CallContext, starting from its documented defaults so an
// all-zero YAML section still produces a usable context.
func (d DispatchConfig) ToCallContext() dispatch.CallContext {
	cc := dispatch.DefaultCallContext()
	if d.MaxRetries > 0 {
		cc.MaxRetries = d.MaxRetries
	}
	if d.CallWeight > 0 {
		cc.CallWeight = d.CallWeight
	}
	if d.MaxTryClaim > 0 {
		cc.MaxTryClaim = d.MaxTryClaim
	}
	cc.MeasureCallTime = d.MeasureCallTime
	cc.ForceCall = d.ForceCall
	switch d.Mode {
	case "unchecked":
		cc.Mode = dispatch.Unchecked
	case "greedy":
		cc.Mode = dispatch.Greedy
	case "courteous", "":
		cc.Mode = dispatch.Courteous
	default:
		cc.Mode = dispatch.Courteous
	}
	return cc
}

// ErrHandlerConfig mirrors errhandler.Config; FatalClasses is spelled as a
// list of class names rather than a map, since YAML has no native set type.
type ErrHandlerConfig struct {
	Policy       string   `yaml:"policy"`
	BaseMillis   uint32   `yaml:"base_millis"`
	CapMillis    uint32   `yaml:"cap_millis"`
	FatalClasses []string `yaml:"fatal_classes"`
}

func (e ErrHandlerConfig) ToHandlerConfig() errhandler.Config {
	var fatal map[errhandler.Class]bool
	if len(e.FatalClasses) > 0 {
		fatal = make(map[errhandler.Class]bool, len(e.FatalClasses))
		for _, name := range e.FatalClasses {
			fatal[classByName(name)] = true
		}
	}
	return errhandler.Config{
		Policy:       e.Policy,
		BaseMillis:   e.BaseMillis,
		CapMillis:    e.CapMillis,
		FatalClasses: fatal,
	}
}

func classByName(name string) errhandler.Class {
	switch name {
	case "transient":
		return errhandler.ClassTransient
	case "rate_limited":
		return errhandler.ClassRateLimited
	case "cancelled":
		return errhandler.ClassCancelled
	default:
		return errhandler.ClassFatal
	}
}

// IndexConfig mirrors lookup.IndexConfig, with ReloadDelay spelled as a
// YAML duration string ("30s") instead of a bare time.Duration.
type IndexConfig struct {
	NumPartitions         int    `yaml:"num_partitions"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests"`
	ReloadDelay           string `yaml:"reload_delay"`
	NumPartitionsPerQuery int    `yaml:"num_partitions_per_query"`
	TopTablesPerPartition int    `yaml:"top_tables_per_partition"`
	MinScore              uint32 `yaml:"min_score"`
	CacheDirectory        string `yaml:"cache_directory"`
}

func (c IndexConfig) ToIndexConfig() (lookup.IndexConfig, error) {
	var delay time.Duration
	if c.ReloadDelay != "" {
		var err error
		delay, err = time.ParseDuration(c.ReloadDelay)
		if err != nil {
			return lookup.IndexConfig{}, fmt.Errorf("parse reload_delay: %w", err)
		}
	}
	return lookup.IndexConfig{
		NumPartitions:         c.NumPartitions,
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		ReloadDelay:           delay,
		NumPartitionsPerQuery: c.NumPartitionsPerQuery,
		TopTablesPerPartition: c.TopTablesPerPartition,
		MinScore:              c.MinScore,
		CacheDirectory:        c.CacheDirectory,
	}, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
