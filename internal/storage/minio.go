package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage uploads sources to <bucket>/<dataset>/ and returns
// s3://<bucket>/<key> locations.
type MinioStorage struct {
	cli    *minio.Client
	bucket string
}

func NewMinioStorage(ctx context.Context, conf S3Config) (*MinioStorage, error) {
	cli, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKeyID, conf.SecretAccessKey, ""),
		Secure: conf.UseSSL,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := cli.BucketExists(ctx, conf.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", conf.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, conf.Bucket, minio.MakeBucketOptions{Region: conf.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", conf.Bucket, err)
		}
	}
	return &MinioStorage{cli: cli, bucket: conf.Bucket}, nil
}

func (s *MinioStorage) location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *MinioStorage) objectExists(ctx context.Context) func(string) (bool, error) {
	return func(key string) (bool, error) {
		_, err := s.cli.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return true, nil
		}
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
}

func (s *MinioStorage) Import(ctx context.Context, datasetId, src string) (string, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	key, err := uniqueName(path.Join(datasetId, baseName(src)), s.objectExists(ctx))
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		if err := UploadFileToMinio(ctx, s.cli, s.bucket, src, key); err != nil {
			return "", err
		}
		return s.location(key), nil
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := UploadFileToMinio(ctx, s.cli, s.bucket, filepath.Join(src, e.Name()), path.Join(key, e.Name())); err != nil {
			return "", err
		}
	}
	return s.location(key), nil
}

func (s *MinioStorage) removePrefix(ctx context.Context, prefix string) error {
	var errs []error
	for obj := range s.cli.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := s.cli.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MinioStorage) Remove(ctx context.Context, datasetId, location string) error {
	key, ok := strings.CutPrefix(location, "s3://"+s.bucket+"/")
	if !ok || !strings.HasPrefix(key, datasetId+"/") {
		return fmt.Errorf("%s is outside dataset %s", location, datasetId)
	}
	if err := s.cli.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return err
	}
	// image sequences are stored as a prefix
	return s.removePrefix(ctx, key+"/")
}

func (s *MinioStorage) RemoveDataset(ctx context.Context, datasetId string) error {
	return s.removePrefix(ctx, datasetId+"/")
}

var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"json": "application/json",
	"mp4":  "video/mp4",
	"avi":  "video/avi",
	"mov":  "video/quicktime",
	"mkv":  "video/x-matroska",
	"ts":   "video/mp2t",
}

func contentType(localPath string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(localPath)), ".")
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

func UploadFileToMinio(ctx context.Context, minioCli *minio.Client, bucket, localPath, minioPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file failed: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("get file info failed: %w", err)
	}

	_, err = minioCli.PutObject(
		ctx,
		bucket,
		strings.TrimPrefix(minioPath, "/"),
		file,
		fileInfo.Size(),
		minio.PutObjectOptions{
			ContentType: contentType(localPath),
		},
	)
	if err != nil {
		return fmt.Errorf("put object to minio failed: %w", err)
	}

	return nil
}
