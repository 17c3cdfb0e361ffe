// Package config loads the pipeline configuration from a YAML file, with a
// few environment overrides for the values that differ between machines.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a metamorph run.
type Config struct {
	Database      DatabaseConfig   `yaml:"database"`
	Logging       LoggingConfig    `yaml:"logging"`
	Clustering    ClusteringConfig `yaml:"clustering"`
	Subclustering ClusteringConfig `yaml:"subclustering"`
	Queue         QueueConfig      `yaml:"queue"`

	Accession AccessionConfig `yaml:"accession"`

	EmbeddingTypes []EmbeddingTypeConfig `yaml:"embedding_types"`
	AlignmentTypes []AlignmentTypeConfig `yaml:"alignment_types"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ClusteringConfig struct {
	Threshold  float64 `yaml:"threshold"`
	KmerLength int     `yaml:"kmer_length"`
}

type QueueConfig struct {
	Workers int `yaml:"workers"`
	// MaxRetries is a pointer so an explicit zero-retry budget is
	// distinguishable from the field being absent.
	MaxRetries   *int          `yaml:"max_retries"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	StaleTimeout time.Duration `yaml:"stale_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type AccessionConfig struct {
	CSVPath string `yaml:"csv_path"`
	Column  string `yaml:"column"`
	Tag     string `yaml:"tag"`
}

// EmbeddingTypeConfig describes one embedding model plus the external
// command that runs it. Command is the binary invoked per sequence batch;
// TaskName and ModelName identify the method and its checkpoint in the
// catalogue.
type EmbeddingTypeConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	TaskName    string `yaml:"task_name"`
	ModelName   string `yaml:"model_name"`
	Command     string `yaml:"command"`
}

// AlignmentTypeConfig describes one structural alignment method. TaskName
// is the stable key workers and the aligner registry use; Command is the
// external binary for that method.
type AlignmentTypeConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	TaskName    string `yaml:"task_name"`
	Command     string `yaml:"command"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Per-machine values beat the checked-in file.
	if v := os.Getenv("METAMORPH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("METAMORPH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Clustering.Threshold == 0 {
		c.Clustering.Threshold = 0.5
	}
	if c.Clustering.KmerLength == 0 {
		c.Clustering.KmerLength = 3
	}
	if c.Subclustering.Threshold == 0 {
		c.Subclustering.Threshold = 0.9
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxRetries == nil {
		defaultRetries := 3
		c.Queue.MaxRetries = &defaultRetries
	}
	if c.Queue.TaskTimeout == 0 {
		c.Queue.TaskTimeout = 5 * time.Minute
	}
	if c.Queue.StaleTimeout == 0 {
		c.Queue.StaleTimeout = 30 * time.Minute
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 2 * time.Second
	}
	if c.Accession.Column == "" {
		c.Accession.Column = "accession"
	}
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required (or set METAMORPH_DB_PATH)")
	}
	if c.Clustering.Threshold <= 0 || c.Clustering.Threshold > 1 {
		return fmt.Errorf("clustering.threshold must be in (0, 1], got %v", c.Clustering.Threshold)
	}
	if c.Subclustering.Threshold <= 0 || c.Subclustering.Threshold > 1 {
		return fmt.Errorf("subclustering.threshold must be in (0, 1], got %v", c.Subclustering.Threshold)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1, got %d", c.Queue.Workers)
	}
	if *c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative, got %d", *c.Queue.MaxRetries)
	}
	if len(c.AlignmentTypes) == 0 {
		return fmt.Errorf("at least one alignment type is required")
	}

	seenTask := make(map[string]bool)
	for i, at := range c.AlignmentTypes {
		if at.Name == "" || at.TaskName == "" {
			return fmt.Errorf("alignment_types[%d]: name and task_name are required", i)
		}
		if seenTask[at.TaskName] {
			return fmt.Errorf("alignment_types: duplicate task_name %q", at.TaskName)
		}
		seenTask[at.TaskName] = true
	}

	seenEmb := make(map[string]bool)
	for i, et := range c.EmbeddingTypes {
		if et.Name == "" {
			return fmt.Errorf("embedding_types[%d]: name is required", i)
		}
		if seenEmb[et.Name] {
			return fmt.Errorf("embedding_types: duplicate name %q", et.Name)
		}
		seenEmb[et.Name] = true
	}

	return nil
}

// AlignerCommands maps each alignment task name to its configured binary,
// for methods that declare one.
func (c *Config) AlignerCommands() map[string]string {
	cmds := make(map[string]string, len(c.AlignmentTypes))
	for _, at := range c.AlignmentTypes {
		if at.Command != "" {
			cmds[at.TaskName] = at.Command
		}
	}
	return cmds
}
