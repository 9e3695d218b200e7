//go:build gocv

package probe

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// GocvProber opens video files with OpenCV. Image directories are counted.
type GocvProber struct {
	static *StaticProber
}

func NewProber(conf Config) Prober {
	return &GocvProber{static: NewStaticProber(conf)}
}

func (p *GocvProber) Probe(path string) (*VideoInfo, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return p.static.Probe(path)
	}

	video, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input video: %v", err)
	}
	defer video.Close()

	frames := int64(video.Get(gocv.VideoCaptureFrameCount))
	fps := video.Get(gocv.VideoCaptureFPS)
	if frames <= 0 || fps <= 0 {
		return nil, fmt.Errorf("cannot read length of %s", path)
	}
	return &VideoInfo{LengthFrames: frames, Fps: fps}, nil
}
