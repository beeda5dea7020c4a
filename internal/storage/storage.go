package storage

import (
	"context"

	"foxden/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Descriptor operations
	CreateDescriptor(ctx context.Context, d *models.Descriptor) error
	GetDescriptor(ctx context.Context, id string) (*models.Descriptor, error)
	GetDescriptorByName(ctx context.Context, name string) (*models.Descriptor, error)
	ListDescriptors(ctx context.Context, filter DescriptorFilter) ([]*models.Descriptor, error)
	UpdateDescriptor(ctx context.Context, d *models.Descriptor) error
	DeleteDescriptor(ctx context.Context, id string) error

	// Check operations
	RecordCheck(ctx context.Context, result *models.CheckResult) error
	GetLatestCheck(ctx context.Context, descriptorID string) (*models.CheckResult, error)
	GetCheckHistory(ctx context.Context, descriptorID string, limit int) ([]*models.CheckResult, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Close closes the storage connection
	Close() error
}

// DescriptorFilter represents filters for querying descriptors
type DescriptorFilter struct {
	Kind       *models.Kind
	Status     *models.Status
	SearchTerm string // matches name and host
	Tags       []string
}
