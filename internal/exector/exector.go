package exector

import (
	"context"
	"time"

	"videoterror/internal/model"
)

type Executor interface {
	Start() error
	Stop()
	Process() *model.Process
	Status() model.ProcessState
	Done() <-chan struct{}
}

// Notifier is told about every process state change.
type Notifier interface {
	ProcessChanged(p *model.Process)
}

// Output is what a module produced for one video.
type Output struct {
	Keyframes int64
	Events    *model.VideoEvents
	Metadata  *model.VideoMetadata
}

// Analyzer runs the module of a task on one video.
type Analyzer interface {
	Analyze(ctx context.Context, task *model.Task, video *model.Video) (*Output, error)
}

type Config struct {
	TickIntervalMs int   `yaml:"tickIntervalMs"`
	FramesPerTick  int64 `yaml:"framesPerTick"`
}

func DefaultConfig() Config {
	return Config{
		TickIntervalMs: 100,
		FramesPerTick:  250,
	}
}

func (c Config) TickInterval() time.Duration {
	if c.TickIntervalMs <= 0 {
		return time.Duration(DefaultConfig().TickIntervalMs) * time.Millisecond
	}
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c Config) frames() int64 {
	if c.FramesPerTick <= 0 {
		return DefaultConfig().FramesPerTick
	}
	return c.FramesPerTick
}
