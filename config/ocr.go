package config

import (
	"sync"
)

var (
	ocrOnce   sync.Once
	ocrConfig *OCRConfig
)

// OCRConfig selects and configures the text extraction engine. Engine is
// "textract" (default) or "tesseract" for local processing.
type OCRConfig struct {
	Engine    string
	Region    string
	AccessKey string
	SecretKey string
	Languages []string
}

func GetOCRConfig() *OCRConfig {
	ocrOnce.Do(func() {
		loadEnv()

		ocrConfig = &OCRConfig{
			Engine:    getenv("OCR_ENGINE", "textract"),
			Region:    getenv("AWS_REGION", "us-west-2"),
			AccessKey: getenv("AWS_ACCESS_KEY", ""),
			SecretKey: getenv("AWS_SECRET_KEY", ""),
			Languages: []string{getenv("OCR_LANGUAGE", "eng")},
		}
	})
	return ocrConfig
}
