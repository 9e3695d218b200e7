package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage copies sources into <dataDir>/<dataset>/.
type LocalStorage struct {
	dataDir string
}

func NewLocalStorage(dataDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &LocalStorage{dataDir: dataDir}, nil
}

func (s *LocalStorage) Import(_ context.Context, datasetId, src string) (string, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	dir, err := s.datasetDir(datasetId)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create dataset dir: %w", err)
	}
	dest, err := uniqueName(filepath.Join(dir, baseName(src)), fileExists)
	if err != nil {
		return "", err
	}

	if !fi.IsDir() {
		return dest, copyFile(src, dest)
	}
	if err := os.Mkdir(dest, 0755); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func (s *LocalStorage) Remove(_ context.Context, datasetId, location string) error {
	dir, err := s.datasetDir(datasetId)
	if err != nil {
		return err
	}
	if rel, err := filepath.Rel(dir, location); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s is outside dataset %s", location, datasetId)
	}
	return os.RemoveAll(location)
}

func (s *LocalStorage) RemoveDataset(_ context.Context, datasetId string) error {
	dir, err := s.datasetDir(datasetId)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// datasetDir is the directory of datasetId. It must be a direct child of
// dataDir.
func (s *LocalStorage) datasetDir(datasetId string) (string, error) {
	dir := filepath.Join(s.dataDir, datasetId)
	rel, err := filepath.Rel(s.dataDir, dir)
	if err != nil || rel != datasetId || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("dataset %q is outside data dir", datasetId)
	}
	return dir, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
