package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/samber/lo"
	"sigs.k8s.io/yaml"

	v1 "github.com/f5qa/respool/api/v1"
	"github.com/f5qa/respool/pkg/respool"
)

const (
	DefaultPort            = "8085"
	DefaultSweeperInterval = time.Minute
	DefaultSweeperGrace    = 5 * time.Minute
)

var (
	poolTypes = []v1.PoolType{
		v1.PoolTypeIP,
		v1.PoolTypeIPPort,
		v1.PoolTypeMember,
		v1.PoolTypeRange,
		v1.PoolTypeGeneric,
	}
	rangeTypes = []v1.RangeType{
		v1.RangeTypeIP,
		v1.RangeTypeIPPort,
		v1.RangeTypePort,
	}
)

// Load reads a YAML or JSON configuration file
func Load(path string) (*v1.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config error: failed to read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config error in %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data, rejecting unknown fields, and fills the defaults
func Parse(data []byte) (*v1.Config, error) {
	cfg := &v1.Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *v1.Config) {
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = v1.CacheMemory
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Sweeper.Interval.Duration == 0 {
		cfg.Sweeper.Interval.Duration = DefaultSweeperInterval
	}
	if cfg.Sweeper.Grace.Duration == 0 {
		cfg.Sweeper.Grace.Duration = DefaultSweeperGrace
	}
}

func validate(cfg *v1.Config) error {
	names := lo.Keys(cfg.Pools)
	slices.Sort(names)
	for _, n := range names {
		if !slices.Contains(poolTypes, cfg.Pools[n].Type) {
			return fmt.Errorf("pool %s: %w: %q", n, respool.ErrUnknownType, cfg.Pools[n].Type)
		}
	}

	names = lo.Keys(cfg.Ranges)
	slices.Sort(names)
	for _, n := range names {
		if !slices.Contains(rangeTypes, cfg.Ranges[n].Type) {
			return fmt.Errorf("range %s: %w: %q", n, respool.ErrUnknownType, cfg.Ranges[n].Type)
		}
	}
	return nil
}

// RetryPolicy converts the retry section, zero fields keep the defaults
func RetryPolicy(spec v1.RetrySpec) respool.RetryPolicy {
	return respool.RetryPolicy{
		Steps:    spec.Steps,
		Duration: spec.Duration.Duration,
		Factor:   spec.Factor,
		Jitter:   spec.Jitter,
	}
}
