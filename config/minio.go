package config

import (
	"sync"
)

var (
	minioOnce   sync.Once
	minioConfig *MinioConfig
)

type MinioConfig struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
}

func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		loadEnv()

		minioConfig = &MinioConfig{
			BucketName: getenv("MINIO_BUCKET_NAME", "docproc-bucket"),
			Region:     getenv("MINIO_REGION", ""),
			Endpoint:   getenv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:  getenv("MINIO_ACCESS_KEY", ""),
			SecretKey:  getenv("MINIO_SECRET_KEY", ""),
			UseSSL:     getenv("MINIO_USE_SSL", "false") == "true",
		}
	})
	return minioConfig
}
