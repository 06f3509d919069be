package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	CacheDir                  string
	ConfigDir                 string
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	Hostname                  string
	LibraryDir                string
	PortRangeEnd              int
	PortRangeStart            int
	ScanInterval              time.Duration
	ServiceName               string
	WorkerProcesses           int
}

const environmentENV = "ENVIRONMENT"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		CacheDir:                  filepath.Join(os.TempDir(), "FolioKindleCache"),
		ConfigDir:                 configDir(),
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        3,
		Hostname:                  hostname,
		PortRangeEnd:              8180,
		PortRangeStart:            8080,
		ScanInterval:              time.Hour,
		ServiceName:               hostname,
		WorkerProcesses:           2,
	}

	if dir := os.Getenv("LIBRARY_DIRECTORY"); dir != "" {
		cfg.LibraryDir = dir
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	return cfg, nil
}

func configDir() string {
	if dir := os.Getenv("CONFIG_DIRECTORY"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/config"
	}
	return filepath.Join(home, ".folio")
}
