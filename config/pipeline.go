package config

import (
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig holds the tunable processing policy. It is loaded from the
// YAML file named by PIPELINE_CONFIG (default pipeline.yaml) so heuristics
// like the batching window and the business-token list can be changed
// without redeploying logic.
type PipelineConfig struct {
	// BatchingWindow is how long the first page of a new document waits for
	// siblings before processing starts.
	BatchingWindow time.Duration `yaml:"batchingWindow"`

	// PollInterval is the delay between OCR job polling invocations.
	PollInterval time.Duration `yaml:"pollInterval"`

	// RecordTTL is the record store expiry for document records.
	RecordTTL time.Duration `yaml:"recordTTL"`

	// MaxRetries bounds orchestrator re-invocations of a failed stage.
	MaxRetries int `yaml:"maxRetries"`

	PII PIIConfig `yaml:"pii"`
}

type PIIConfig struct {
	Enabled bool `yaml:"enabled"`

	// AllowedBuckets limits PII processing to the named buckets; empty
	// means all.
	AllowedBuckets []string `yaml:"allowedBuckets"`

	// BusinessTokens are words that disqualify a detected name as personal.
	BusinessTokens []string `yaml:"businessTokens"`

	// BusinessContexts are nearby words that mark a name as organizational.
	BusinessContexts []string `yaml:"businessContexts"`

	// RedactionPadding is the pixel padding added around redacted regions.
	RedactionPadding int `yaml:"redactionPadding"`
}

// DefaultPipelineConfig mirrors the original deployment's tuning.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		BatchingWindow: 3 * time.Second,
		PollInterval:   5 * time.Second,
		RecordTTL:      30 * 24 * time.Hour,
		MaxRetries:     3,
		PII: PIIConfig{
			Enabled: false,
			BusinessTokens: []string{
				"LLC", "Inc", "Corp", "Company", "Associates", "Group", "Partners",
				"Chevrolet", "Ford", "Toyota", "Honda", "BMW", "Mercedes", "Audi",
				"Bank", "Credit", "Union", "Insurance", "Agency", "Services",
			},
			BusinessContexts: []string{
				"from", "at", "company", "business", "dealer", "dealership",
			},
			RedactionPadding: 8,
		},
	}
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()
		pipelineConfig = DefaultPipelineConfig()

		path := getenv("PIPELINE_CONFIG", "pipeline.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: pipeline config not found at %s, using defaults", path)
			return
		}
		if err := yaml.Unmarshal(data, pipelineConfig); err != nil {
			log.Printf("Warning: invalid pipeline config %s: %v, using defaults", path, err)
			pipelineConfig = DefaultPipelineConfig()
		}
	})
	return pipelineConfig
}

// PIIAllowedFor reports whether PII processing applies to the given bucket.
func (c *PipelineConfig) PIIAllowedFor(bucket string) bool {
	if !c.PII.Enabled {
		return false
	}
	if len(c.PII.AllowedBuckets) == 0 {
		return true
	}
	for _, b := range c.PII.AllowedBuckets {
		if b == bucket {
			return true
		}
	}
	return false
}
