// Package blob exposes the blob storage abstraction and selects a backend
// from configuration.
package blob

import (
	"context"
	"fmt"

	"synister/internal/blob/core"
	"synister/internal/infra/blob/fs"
	memorystore "synister/internal/infra/blob/memory"
	infraS3 "synister/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 backend.
	S3Config = infraS3.Config
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrExists is returned by Put for a taken key.
var ErrExists = core.ErrExists

// Config selects and configures a backend.
type Config struct {
	Driver Driver   `yaml:"driver"`
	Root   string   `yaml:"root"`
	S3     S3Config `yaml:"s3"`
}

// Open returns the configured store. An empty driver selects the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", DriverFilesystem:
		store, err = fs.New(cfg.Root)
	case DriverS3:
		store, err = infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		store = memorystore.New()
	default:
		err = fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
