package config

import (
	"path/filepath"

	"videoterror/internal/exector"
	"videoterror/internal/notify"
	"videoterror/internal/probe"
	"videoterror/internal/storage"
)

const defaultDataDir = "vtserver_dir"

type Config struct {
	Addr      string `yaml:"addr"`
	SSLCert   string `yaml:"sslCert"`
	SSLKey    string `yaml:"sslKey"`
	JwtSecret string `yaml:"jwtSecret"`
	// DataDir is the root of the server files. Local storage defaults to
	// DataDir/data.
	DataDir string `yaml:"dataDir"`
	// MetadataDir holds the badger store. Empty keeps metadata in memory.
	MetadataDir string         `yaml:"metadataDir"`
	Storage     storage.Config `yaml:"storage"`
	Probe       probe.Config   `yaml:"probe"`
	Runner      exector.Config `yaml:"runner"`
	NSQ         notify.Config  `yaml:"nsq"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:        "127.0.0.1:8081",
		DataDir:     defaultDataDir,
		MetadataDir: filepath.Join(defaultDataDir, "metadata"),
		Storage:     defaultStorage(),
		Probe:       probe.DefaultConfig(),
		Runner:      exector.DefaultConfig(),
		NSQ:         notify.DefaultConfig(),
	}
}

func defaultStorage() storage.Config {
	conf := storage.DefaultConfig()
	conf.DataDir = ""
	return conf
}

// Fill sets the values derived from other fields.
func (c *Config) Fill() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = filepath.Join(c.DataDir, "data")
	}
}

// Redacted returns a copy of c that is safe to log.
func (c *Config) Redacted() *Config {
	redacted := *c
	if redacted.JwtSecret != "" {
		redacted.JwtSecret = "******"
	}
	if redacted.Storage.S3.SecretAccessKey != "" {
		redacted.Storage.S3.SecretAccessKey = "******"
	}
	return &redacted
}
