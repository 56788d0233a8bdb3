package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/qmt/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// ConfigFromEnv reads QMT_MINIO_*. bucket is used when QMT_MINIO_BUCKET is
// unset.
func ConfigFromEnv(bucket string) (Config, error) {
	useSSL, err := env.Bool("QMT_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(bucket) == "" {
		bucket = "qmt-artifacts"
	}
	cfg := Config{
		Endpoint:  env.String("QMT_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("QMT_MINIO_ACCESS_KEY", "qmt"),
		SecretKey: env.String("QMT_MINIO_SECRET_KEY", "qmtminio"),
		Region:    env.String("QMT_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("QMT_MINIO_BUCKET", bucket),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
