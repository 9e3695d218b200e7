package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoterror/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "vtserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestInitConfig(t *testing.T) {
	path := writeConfig(t, `
addr: 0.0.0.0:9090
dataDir: /srv/vt
metadataDir: ""
jwtSecret: secret
storage:
  kind: minio
  s3:
    bucket: videos
runner:
  tickIntervalMs: 20
nsq:
  enabled: true
  topic: processes
`)
	conf, err := InitConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", conf.Addr)
	assert.Equal(t, "secret", conf.JwtSecret)
	assert.Empty(t, conf.MetadataDir)

	assert.Equal(t, storage.KindMinio, conf.Storage.Kind)
	assert.Equal(t, "videos", conf.Storage.S3.Bucket)
	assert.Equal(t, "/srv/vt/data", conf.Storage.DataDir)

	assert.Equal(t, 20*time.Millisecond, conf.Runner.TickInterval())
	assert.Equal(t, DefaultConfig().Runner.FramesPerTick, conf.Runner.FramesPerTick)
	assert.True(t, conf.NSQ.Enabled)
	assert.Equal(t, "processes", conf.NSQ.Topic)
	assert.Equal(t, DefaultConfig().NSQ.NSQDAddr, conf.NSQ.NSQDAddr)
	assert.Equal(t, DefaultConfig().Probe, conf.Probe)
}

func TestFillKeepsExplicitStorageDir(t *testing.T) {
	conf, err := InitConfig(writeConfig(t, "storage:\n  dataDir: /mnt/videos\n"))
	require.NoError(t, err)
	assert.Equal(t, "/mnt/videos", conf.Storage.DataDir)
	assert.Equal(t, filepath.Join(defaultDataDir, "metadata"), conf.MetadataDir)
}

func TestInitConfigErrors(t *testing.T) {
	_, err := InitConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = InitConfig(writeConfig(t, "addr: [unterminated"))
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	conf := DefaultConfig()
	conf.JwtSecret = "jwt-secret"
	conf.Storage.S3.AccessKeyID = "access"
	conf.Storage.S3.SecretAccessKey = "s3-secret"

	printed := fmt.Sprintf("%+v", conf.Redacted())
	assert.NotContains(t, printed, "jwt-secret")
	assert.NotContains(t, printed, "s3-secret")
	assert.Contains(t, printed, "access")
	assert.Equal(t, "jwt-secret", conf.JwtSecret)
	assert.Equal(t, "s3-secret", conf.Storage.S3.SecretAccessKey)

	assert.Empty(t, DefaultConfig().Redacted().JwtSecret)
}
