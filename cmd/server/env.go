package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// serverEnv holds environment overrides. Flags still win when set explicitly.
type serverEnv struct {
	Addr      string `env:"CABIN_ADDR"`
	DataDir   string `env:"CABIN_DATA_DIR"`
	ConfigDir string `env:"CABIN_CONFIG_DIR"`
	LogFile   string `env:"CABIN_LOG_FILE"`

	IndexBackend string        `env:"CABIN_INDEX_BACKEND" envDefault:"sqlite"`
	IngestURL    string        `env:"CABIN_INDEX_INGEST_URL"`
	IngestToken  string        `env:"CABIN_INDEX_INGEST_TOKEN"`
	IngestFlush  time.Duration `env:"CABIN_INDEX_INGEST_FLUSH" envDefault:"500ms"`
	IngestBatch  int           `env:"CABIN_INDEX_INGEST_BATCH" envDefault:"128"`

	EnableAdminHTTP *bool  `env:"CABIN_ENABLE_ADMIN_HTTP"`
	DeployEnv       string `env:"DEPLOY_ENV"`
}

func loadServerEnv() (serverEnv, error) {
	var e serverEnv
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// adminEnabled defaults to off in staging and production.
func (e serverEnv) adminEnabled() bool {
	if e.EnableAdminHTTP != nil {
		return *e.EnableAdminHTTP
	}
	switch e.DeployEnv {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
