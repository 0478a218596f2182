// Package config loads the synister YAML configuration bundle.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"synister/internal/blob"
	"synister/internal/core"
	"synister/internal/infra/persistence/postgres"
	"synister/pkg/domain"
)

// Config is the whole configuration bundle. It is loaded once and passed by
// value to the components that need it.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Predict PredictConfig `yaml:"predict"`
	Blob    blob.Config   `yaml:"blob"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig locates the record store.
type StorageConfig struct {
	Driver     core.StorageDriver `yaml:"driver"` // memory, sqlite, postgres
	SQLitePath string             `yaml:"sqlite_path"`
	// DSN overrides Credentials/DatabaseName when set.
	DSN          string               `yaml:"dsn"`
	DatabaseName string               `yaml:"database_name"`
	Credentials  postgres.Credentials `yaml:"credentials"`
}

// PredictConfig carries the parameters of a prediction run.
type PredictConfig struct {
	TrainCheckpoint   string   `yaml:"train_checkpoint"`
	SplitName         string   `yaml:"split_name"`
	BatchSize         int      `yaml:"batch_size"`
	InputShape        []int    `yaml:"input_shape"`
	FMaps             int      `yaml:"fmaps"`
	DownsampleFactors [][]int  `yaml:"downsample_factors"`
	VoxelSize         []int    `yaml:"voxel_size"`
	SynapseTypes      []string `yaml:"synapse_types"`
	RawContainer      string   `yaml:"raw_container"`
	RawDataset        string   `yaml:"raw_dataset"`
	Experiment        string   `yaml:"experiment"`
	TrainNumber       int      `yaml:"train_number"`
	PredictNumber     int      `yaml:"predict_number"`
	NumCacheWorkers   int      `yaml:"num_cache_workers"`
	NumBlockWorkers   int      `yaml:"num_block_workers"`
	SplitPart         string   `yaml:"split_part"`
	// OutputClasses defaults to the derived grouping-class count when zero.
	OutputClasses     int     `yaml:"output_classes"`
	ExcludedSkeletons []int64 `yaml:"excluded_skeletons"`
	QueueCapacity     int     `yaml:"queue_capacity"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:     core.StorageSQLite,
			SQLitePath: "synister.db",
		},
		Predict: PredictConfig{
			BatchSize:       8,
			NumCacheWorkers: 1,
			NumBlockWorkers: 1,
			SplitPart:       core.SplitPartTest,
		},
		Blob:    blob.Config{Driver: blob.DriverFilesystem, Root: "blobs"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data over cfg and fills derived defaults.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Predict.SplitPart == "" {
		c.Predict.SplitPart = core.SplitPartTest
	}
	if c.Predict.QueueCapacity == 0 {
		c.Predict.QueueCapacity = 4 * c.Predict.BatchSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// StorageOptions converts the storage section for core.OpenPersistentStore.
func (c Config) StorageOptions() core.StorageOptions {
	creds := c.Storage.Credentials
	if c.Storage.DatabaseName != "" {
		creds.Database = c.Storage.DatabaseName
	}
	return core.StorageOptions{
		Driver:      c.Storage.Driver,
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.DSN,
		Credentials: creds,
	}
}

// Validate checks the storage section and, when predict is set, the
// prediction parameters.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "", core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		return domain.ValidationError{Field: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory, blob.DriverS3:
	default:
		return domain.ValidationError{Field: "blob.driver", Reason: fmt.Sprintf("unknown driver %q", c.Blob.Driver)}
	}
	return nil
}

// Validate checks the parameters a prediction run needs.
func (p PredictConfig) Validate() error {
	switch {
	case p.TrainCheckpoint == "":
		return domain.ValidationError{Field: "predict.train_checkpoint", Reason: "required"}
	case p.SplitName == "":
		return domain.ValidationError{Field: "predict.split_name", Reason: "required"}
	case p.Experiment == "":
		return domain.ValidationError{Field: "predict.experiment", Reason: "required"}
	case p.BatchSize < 1:
		return domain.ValidationError{Field: "predict.batch_size", Reason: "must be positive"}
	case len(p.InputShape) != 3:
		return domain.ValidationError{Field: "predict.input_shape", Reason: "must have three dimensions"}
	case len(p.VoxelSize) != 3:
		return domain.ValidationError{Field: "predict.voxel_size", Reason: "must have three dimensions"}
	case p.NumCacheWorkers < 1:
		return domain.ValidationError{Field: "predict.num_cache_workers", Reason: "must be positive"}
	case p.NumBlockWorkers < 1:
		return domain.ValidationError{Field: "predict.num_block_workers", Reason: "must be positive"}
	case p.OutputClasses < 0:
		return domain.ValidationError{Field: "predict.output_classes", Reason: "must not be negative"}
	case p.QueueCapacity < 0:
		return domain.ValidationError{Field: "predict.queue_capacity", Reason: "must not be negative"}
	}
	for _, dim := range p.InputShape {
		if dim < 1 {
			return domain.ValidationError{Field: "predict.input_shape", Reason: "dimensions must be positive"}
		}
	}
	for i, factor := range p.DownsampleFactors {
		if len(factor) != 3 {
			return domain.ValidationError{Field: "predict.downsample_factors", Reason: fmt.Sprintf("entry %d must have three dimensions", i)}
		}
	}
	return core.ValidateSplitPart(p.SplitPart)
}

// RunScope returns the split and run key the parameters address.
func (p PredictConfig) RunScope() domain.RunScope {
	return domain.RunScope{
		SplitName: p.SplitName,
		RunKey: domain.RunKey{
			Experiment:    p.Experiment,
			TrainNumber:   p.TrainNumber,
			PredictNumber: p.PredictNumber,
		},
	}
}
