package config

import (
	"sync"
)

var (
	llmOnce   sync.Once
	llmConfig *LLMConfig
)

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

func GetLLMConfig() *LLMConfig {
	llmOnce.Do(func() {
		loadEnv()

		llmConfig = &LLMConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			BaseURL:     getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getenv("OPENAI_MODEL", "gpt-3.5-turbo"),
			MaxTokens:   2000,
			Temperature: 0.1,
		}
	})
	return llmConfig
}
