package config

import (
	"sync"
)

var (
	s3Once   sync.Once
	s3Config *S3Config
)

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
}

func GetS3Config() *S3Config {
	s3Once.Do(func() {
		loadEnv()

		s3Config = &S3Config{
			BucketName: getenv("AWS_S3_BUCKET_NAME", "docproc-bucket"),
			Region:     getenv("AWS_REGION", "us-west-2"),
			Endpoint:   getenv("AWS_ENDPOINT", ""),
			AccessKey:  getenv("AWS_ACCESS_KEY", ""),
			SecretKey:  getenv("AWS_SECRET_KEY", ""),
		}
	})
	return s3Config
}
