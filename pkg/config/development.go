package config

import (
	"os"
	"path/filepath"
	"strconv"
)

func loadDevelopmentConfig(cfg *Config) {
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.PortRangeStart = port
		cfg.PortRangeEnd = port
	}

	cfg.DatabaseDebug = true
	cfg.DatabaseFilePath = "./tmp/data.sqlite"
	if cfg.LibraryDir == "" {
		cfg.LibraryDir = "./tmp/library"
	}
}

func loadTestConfig(cfg *Config) {
	cfg.DatabaseFilePath = ":memory:"
	cfg.LibraryDir = filepath.Join(os.TempDir(), "folio-test-library")
	cfg.ScanInterval = 0
}

func loadProductionConfig(cfg *Config) {
	cfg.DatabaseFilePath = filepath.Join(cfg.ConfigDir, "data.sqlite")
	if cfg.LibraryDir == "" {
		cfg.LibraryDir = "/library"
	}
}
