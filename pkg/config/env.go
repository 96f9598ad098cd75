package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overrides cfg with LOGIDS_* environment variables. Values that
// do not parse are ignored.
func LoadFromEnv(cfg *Config) {
	if addr := os.Getenv("LOGIDS_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if v := os.Getenv("LOGIDS_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxUploadBytes = n
		}
	}

	// Store settings
	if v := os.Getenv("LOGIDS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("LOGIDS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LOGIDS_STORE_COMPRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Store.Compress = b
		}
	}
	if v := os.Getenv("LOGIDS_S3_ENDPOINT"); v != "" {
		cfg.Store.S3.Endpoint = v
	}
	if v := os.Getenv("LOGIDS_S3_REGION"); v != "" {
		cfg.Store.S3.Region = v
	}
	if v := os.Getenv("LOGIDS_S3_BUCKET"); v != "" {
		cfg.Store.S3.Bucket = v
	}
	if v := os.Getenv("LOGIDS_S3_ACCESS_KEY"); v != "" {
		cfg.Store.S3.AccessKey = v
	}
	if v := os.Getenv("LOGIDS_S3_SECRET_KEY"); v != "" {
		cfg.Store.S3.SecretKey = v
	}

	if v := os.Getenv("LOGIDS_HIGH_RATE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Explain.HighRateThreshold = n
		}
	}

	if v := os.Getenv("LOGIDS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOGIDS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
