package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type VideoInfo struct {
	LengthFrames int64
	Fps          float64
}

// Prober reads the length of a video file or of a directory of images.
type Prober interface {
	Probe(path string) (*VideoInfo, error)
}

type Config struct {
	Frames int64   `yaml:"frames"`
	Fps    float64 `yaml:"fps"`
}

func DefaultConfig() Config {
	return Config{
		Frames: 1500,
		Fps:    25,
	}
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// CountImages returns the number of image files directly inside dir.
func CountImages(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read image dir: %w", err)
	}
	var n int64
	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			n++
		}
	}
	return n, nil
}

// StaticProber reports the configured length for every video file.
type StaticProber struct {
	conf Config
}

func NewStaticProber(conf Config) *StaticProber {
	if conf.Frames <= 0 {
		conf.Frames = DefaultConfig().Frames
	}
	if conf.Fps <= 0 {
		conf.Fps = DefaultConfig().Fps
	}
	return &StaticProber{conf: conf}
}

func (p *StaticProber) Probe(path string) (*VideoInfo, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		n, err := CountImages(path)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("no images in %s", path)
		}
		return &VideoInfo{LengthFrames: n, Fps: p.conf.Fps}, nil
	}
	return &VideoInfo{LengthFrames: p.conf.Frames, Fps: p.conf.Fps}, nil
}
