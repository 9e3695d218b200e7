package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	KindNone  = "none"
	KindLocal = "local"
	KindMinio = "minio"
)

// Storage imports video sources into a dataset.
type Storage interface {
	// Import stores src under the dataset and returns the stored location.
	Import(ctx context.Context, datasetId, src string) (string, error)
	Remove(ctx context.Context, datasetId, location string) error
	RemoveDataset(ctx context.Context, datasetId string) error
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	Region          string `yaml:"region"`
}

type Config struct {
	Kind    string   `yaml:"kind"`
	DataDir string   `yaml:"dataDir"`
	S3      S3Config `yaml:"s3"`
}

func DefaultConfig() Config {
	return Config{
		Kind:    KindLocal,
		DataDir: "vtserver_dir/data",
		S3: S3Config{
			Bucket:   "videoterror",
			Endpoint: "127.0.0.1:9000",
			UseSSL:   false,
			Region:   "us-east-1",
		},
	}
}

func New(ctx context.Context, conf Config) (Storage, error) {
	switch conf.Kind {
	case KindNone, "":
		return InPlace{}, nil
	case KindLocal:
		return NewLocalStorage(conf.DataDir)
	case KindMinio:
		return NewMinioStorage(ctx, conf.S3)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", conf.Kind)
	}
}

// InPlace leaves sources where they are.
type InPlace struct{}

func (InPlace) Import(_ context.Context, _ string, src string) (string, error) {
	return src, nil
}

func (InPlace) Remove(context.Context, string, string) error {
	return nil
}

func (InPlace) RemoveDataset(context.Context, string) error {
	return nil
}

// uniqueName appends .1, .2, ... to name until exists reports false.
func uniqueName(name string, exists func(string) (bool, error)) (string, error) {
	candidate := name
	for i := 1; ; i++ {
		ok, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !ok {
			return candidate, nil
		}
		candidate = name + "." + strconv.Itoa(i)
	}
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func baseName(src string) string {
	return filepath.Base(filepath.Clean(src))
}
