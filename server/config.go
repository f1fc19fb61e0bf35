package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config represents the server configuration
type Config struct {
	Server struct {
		HTTPPort       int     `yaml:"http_port"`
		BaseURL        string  `yaml:"base_url"`
		SuperuserGroup string  `yaml:"superuser_group"`
		PageLimit      int     `yaml:"page_limit"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"server"`
	MongoDB struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongodb"`
	S3 struct {
		Region     string `yaml:"region"`
		BucketName string `yaml:"bucket_name"`
	} `yaml:"s3"`
	Redis struct {
		Address    string `yaml:"address"`
		TTLSeconds int    `yaml:"ttl"`
	} `yaml:"redis"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	// Parse the YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	// Set defaults
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.BaseURL == "" {
		config.Server.BaseURL = fmt.Sprintf("http://localhost:%d", config.Server.HTTPPort)
	}
	if config.Server.SuperuserGroup == "" {
		config.Server.SuperuserGroup = "import-admin"
	}
	if config.Server.PageLimit == 0 {
		config.Server.PageLimit = 100
	}
	if config.Server.RateLimitRPS == 0 {
		config.Server.RateLimitRPS = 50
	}
	if config.Server.RateLimitBurst == 0 {
		config.Server.RateLimitBurst = 100
	}
	if config.MongoDB.URI == "" {
		config.MongoDB.URI = "mongodb://localhost:27017"
	}
	if config.MongoDB.Database == "" {
		config.MongoDB.Database = "record-import"
	}
	if config.S3.Region == "" {
		config.S3.Region = "us-west-2"
	}
	if config.S3.BucketName == "" {
		config.S3.BucketName = "record-import-blobs"
	}
	if config.Redis.TTLSeconds == 0 {
		config.Redis.TTLSeconds = 300
	}

	return &config, nil
}
