// Package config parses BetaNet's process inputs (spec.md §6): CLI
// flags via github.com/jessevdk/go-flags, overridable by environment
// variables, plus the static relay peer list and accepted-version
// feature flag spec.md §9 leaves as an Open Question. The struct-tag
// CLI-parsing idiom is the teacher's own (cmd/lncli and its root
// config use the same library). Environment overrides are applied after
// flag parsing: a set environment variable replaces the corresponding
// value, whether it came from a flag or from the flag's default.
package config

import (
	"fmt"
	"os"
	"strconv"

	flags "github.com/jessevdk/go-flags"

	"github.com/betanet/relay/sphinxcore"
)

// RelayPeer is one statically configured forwarding candidate: its
// network address, node key (hex-encoded 33-byte compressed pubkey),
// and initial stake. BetaNet has no peer discovery protocol (spec.md
// §9: cross-deployment negotiation is out of scope), so the relay set
// a node forwards to is operator-configured.
type RelayPeer struct {
	Address string `json:"address"`
	NodeKey string `json:"node_key"`
	Stake   uint64 `json:"stake"`
}

// Config is BetaNet's fully resolved runtime configuration: CLI flags
// merged with the environment overrides spec.md §6 names.
type Config struct {
	Port               int    `long:"port" description:"TCP listen port" required:"true"`
	NodeID             string `long:"node-id" description:"string identifier used in logs and reputation records" required:"true"`
	NodeKeyPath        string `long:"node-key" description:"path to the long-term private key seed" required:"true"`
	ReputationSnapshot string `long:"reputation-snapshot" description:"optional path to load/save the reputation snapshot"`
	DebugLevel         string `long:"debuglevel" description:"log level: trace, debug, info, warn, error, critical" default:"info"`
	LogDir             string `long:"logdir" description:"directory for rotated log files; empty logs to stdout only"`

	PipelineWorkers  int     `long:"pipeline-workers" description:"fixed worker pool size" default:"4"`
	BatchSize        int     `long:"batch-size" description:"adaptive batcher's minimum batch size" default:"8"`
	MaxBatchSize     int     `long:"max-batch-size" description:"adaptive batcher's maximum batch size" default:"128"`
	PoolSize         int     `long:"pool-size" description:"memory pool bound" default:"20000"`
	MaxQueueDepth    int     `long:"max-queue-depth" description:"inbound queue depth bound" default:"10000"`
	TargetThroughput float64 `long:"target-throughput" description:"target packets/s used to size the adaptive batcher" default:"25000"`

	AcceptedVersions []uint8 `long:"accepted-sphinx-version" description:"Sphinx header version byte to accept (repeatable); defaults to every version this build supports"`

	RelayPeersPath string `long:"relay-peers" description:"path to a JSON file listing static forwarding candidates"`
}

// applyEnvOverrides maps spec.md §6's named environment variables onto
// the Config field they override. Every variable that is set replaces
// the field's value, including a value given explicitly by flag.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("PIPELINE_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PIPELINE_WORKERS: %w", err)
		}
		cfg.PipelineWorkers = n
	}

	if v, ok := os.LookupEnv("BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}

	if v, ok := os.LookupEnv("POOL_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: POOL_SIZE: %w", err)
		}
		cfg.PoolSize = n
	}

	if v, ok := os.LookupEnv("MAX_QUEUE_DEPTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_QUEUE_DEPTH: %w", err)
		}
		cfg.MaxQueueDepth = n
	}

	if v, ok := os.LookupEnv("TARGET_THROUGHPUT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: TARGET_THROUGHPUT: %w", err)
		}
		cfg.TargetThroughput = f
	}

	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.DebugLevel = v
	}

	return nil
}

// Load parses args (typically os.Args[1:]) into a Config, then layers
// spec.md §6's environment overrides on top.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// VersionSet builds the sphinxcore.VersionSet this config accepts,
// defaulting to every version this build supports when no
// --accepted-sphinx-version flags were given.
func (c *Config) VersionSet() sphinxcore.VersionSet {
	if len(c.AcceptedVersions) == 0 {
		return sphinxcore.DefaultVersionSet()
	}
	return sphinxcore.NewVersionSet(c.AcceptedVersions...)
}
