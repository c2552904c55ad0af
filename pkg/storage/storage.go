package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/docstream/docproc/pkg/logger"
)

// StorageType selects a backend.
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// ObjectInfo describes a stored object without fetching its body.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Storage is the object store capability the pipeline consumes. Artifact
// writes are once-per-key; nothing mutates an object in place.
type Storage interface {
	Store(ctx context.Context, reader io.Reader, key, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
}

// New creates a storage instance for the given backend.
func New(storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return newS3(log)
	case StorageTypeMinio:
		return newMinio(log)
	case StorageTypeMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
