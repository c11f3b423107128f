package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the full runtime configuration. Zero values fall back to the
// defaults below, so a partial YAML file is fine.
type Config struct {
	DBPath string `yaml:"db_path"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Ollama struct {
		BaseURL         string `yaml:"base_url"`
		EmbedModel      string `yaml:"embed_model"`
		TranscribeModel string `yaml:"transcribe_model"`
		DescribeModel   string `yaml:"describe_model"`
	} `yaml:"ollama"`

	Embedding struct {
		Dimension int `yaml:"dimension"`
		BatchSize int `yaml:"batch_size"`
	} `yaml:"embedding"`

	Chunking struct {
		Size    int `yaml:"size"`
		Overlap int `yaml:"overlap"`
	} `yaml:"chunking"`

	Indexing struct {
		Workers    int           `yaml:"workers"`
		MaxRetries int           `yaml:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"indexing"`

	Search struct {
		TopK     int           `yaml:"top_k"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"search"`
}

// Default returns the configuration used when no file or overrides exist.
// The database lives next to the user's other app data.
func Default() *Config {
	c := &Config{}
	c.DBPath = defaultDBPath()
	c.Server.Addr = "127.0.0.1:8787"
	c.Ollama.BaseURL = "http://localhost:11434"
	c.Ollama.EmbedModel = "nomic-embed-text"
	c.Ollama.TranscribeModel = "whisper"
	c.Ollama.DescribeModel = "llava"
	c.Embedding.Dimension = 768
	c.Embedding.BatchSize = 32
	c.Chunking.Size = 500
	c.Chunking.Overlap = 50
	c.Indexing.Workers = 2
	c.Indexing.MaxRetries = 3
	c.Indexing.RetryDelay = 2 * time.Second
	c.Search.TopK = 50
	c.Search.CacheTTL = time.Minute
	return c
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ferret.db"
	}
	return filepath.Join(home, ".ferret", "index.db")
}

// Load reads the YAML file at path, layered over defaults. A missing file is
// not an error: defaults apply. An empty path means "default location only".
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Indexing.Workers <= 0 {
		return fmt.Errorf("indexing.workers must be positive, got %d", c.Indexing.Workers)
	}
	return nil
}
