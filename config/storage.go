package config

import "sync"

var (
	storageOnce sync.Once
	storageType string
)

// GetStorageType selects the object store backend: s3, minio or memory.
func GetStorageType() string {
	storageOnce.Do(func() {
		loadEnv()
		storageType = getenv("STORAGE_TYPE", "s3")
	})
	return storageType
}
