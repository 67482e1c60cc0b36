package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/edm-harvester/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketPublish string
	// Prefix is prepended to every object key.
	Prefix string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("HARVEST_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("HARVEST_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("HARVEST_MINIO_ACCESS_KEY", ""),
		SecretKey:     env.String("HARVEST_MINIO_SECRET_KEY", ""),
		Region:        env.String("HARVEST_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketPublish: env.String("HARVEST_MINIO_BUCKET_PUBLISH", "edm"),
		Prefix:        strings.Trim(env.String("HARVEST_MINIO_PREFIX", ""), "/"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("HARVEST_MINIO_ENDPOINT is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("HARVEST_MINIO_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("HARVEST_MINIO_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("HARVEST_MINIO_REGION is required")
	}
	if strings.TrimSpace(c.BucketPublish) == "" {
		return errors.New("HARVEST_MINIO_BUCKET_PUBLISH is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// Key joins the configured prefix and name into an object key.
func (c Config) Key(name string) string {
	name = strings.TrimLeft(name, "/")
	if c.Prefix == "" {
		return name
	}
	return c.Prefix + "/" + name
}
