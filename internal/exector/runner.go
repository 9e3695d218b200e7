package exector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"videoterror/internal/model"
	"videoterror/pkg/log"
)

var errProcessGone = errors.New("process deleted")

// ProcessRunner walks the videos of one process, advancing frame progress on
// every tick and committing the module output of each video.
type ProcessRunner struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	done     chan struct{}
	mu       sync.Mutex
	proc     *model.Process
	task     *model.Task
	store    *model.Store
	analyzer Analyzer
	notifier Notifier
	conf     Config
	logger   *logrus.Entry
}

func NewProcessRunner(parentCtx context.Context, conf Config, store *model.Store, analyzer Analyzer,
	notifier Notifier, task *model.Task, proc *model.Process) *ProcessRunner {
	ctx, cancel := context.WithCancel(parentCtx)
	return &ProcessRunner{
		ctx:      ctx,
		cancel:   cancel,
		wg:       &sync.WaitGroup{},
		done:     make(chan struct{}),
		proc:     proc,
		task:     task,
		store:    store,
		analyzer: analyzer,
		notifier: notifier,
		conf:     conf,
		logger:   log.GetLogger(ctx).WithField("process", proc.Id),
	}
}

func (e *ProcessRunner) Process() *model.Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := *e.proc
	p.VideoIds = append([]string(nil), e.proc.VideoIds...)
	return &p
}

func (e *ProcessRunner) Status() model.ProcessState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc.State
}

func (e *ProcessRunner) Done() <-chan struct{} {
	return e.done
}

func (e *ProcessRunner) Start() error {
	if err := e.update(func(p *model.Process) { p.State = model.ProcessStateRunning }); err != nil {
		close(e.done)
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(e.done)
		e.logger.Info("process started")
		e.runJob()
		e.logger.Infof("process %s", e.Status())
	}()
	return nil
}

// Stop requests the process to stop and waits until it has.
func (e *ProcessRunner) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *ProcessRunner) update(fn func(p *model.Process)) error {
	e.mu.Lock()
	fn(e.proc)
	e.proc.UpdateTime = time.Now()
	snapshot := *e.proc
	e.mu.Unlock()

	if err := e.store.UpdateProcess(&snapshot); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return errProcessGone
		}
		return err
	}
	if e.notifier != nil {
		e.notifier.ProcessChanged(&snapshot)
	}
	return nil
}

func (e *ProcessRunner) runJob() {
	for _, videoId := range e.Process().VideoIds {
		err := e.runVideo(videoId)
		if err == nil {
			continue
		}
		if errors.Is(err, errProcessGone) {
			e.logger.Info("process deleted while running")
			e.mu.Lock()
			e.proc.State = model.ProcessStateStopped
			e.mu.Unlock()
			return
		}
		if errors.Is(err, context.Canceled) {
			e.release(videoId)
			if err := e.update(func(p *model.Process) { p.State = model.ProcessStateStopped }); err != nil && !errors.Is(err, errProcessGone) {
				e.logger.WithError(err).Error("save stopped process")
			}
			return
		}
		e.logger.WithError(err).Errorf("process failed on video %s", videoId)
		e.release(videoId)
		if err := e.update(func(p *model.Process) {
			p.State = model.ProcessStateFailed
			p.ErrorMessage = err.Error()
		}); err != nil && !errors.Is(err, errProcessGone) {
			e.logger.WithError(err).Error("save failed process")
		}
		return
	}

	if err := e.update(func(p *model.Process) {
		p.State = model.ProcessStateFinished
		p.Progress = 1
		p.CurrentItem = ""
	}); err != nil && !errors.Is(err, errProcessGone) {
		e.logger.WithError(err).Error("save finished process")
	}
}

// release drops the claim of this process on an unfinished video.
func (e *ProcessRunner) release(videoId string) {
	prog, err := e.store.GetProgress(e.proc.DatasetId, e.task.Id, videoId)
	if err != nil || prog == nil || prog.Done || prog.ProcessId != e.proc.Id {
		return
	}
	prog.ProcessId = ""
	if err := e.store.SetProgress(prog); err != nil {
		e.logger.WithError(err).Warnf("release video %s", videoId)
	}
}

func (e *ProcessRunner) runVideo(videoId string) error {
	datasetId := e.proc.DatasetId
	prog, err := e.store.GetProgress(datasetId, e.task.Id, videoId)
	if err != nil {
		return err
	} else if prog != nil && prog.Done {
		e.logger.Debugf("video %s already done", videoId)
		return nil
	}

	video, err := e.store.GetVideo(datasetId, videoId)
	if err != nil {
		return err
	} else if video == nil {
		return fmt.Errorf("Cannot find video %s", videoId)
	}

	prog = &model.VideoProgress{
		DatasetId: datasetId,
		TaskId:    e.task.Id,
		VideoId:   videoId,
		ProcessId: e.proc.Id,
	}
	if err := e.store.SetProgress(prog); err != nil {
		return err
	}
	if err := e.update(func(p *model.Process) {
		p.CurrentItem = videoId
		p.Progress = 0
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(e.conf.TickInterval())
	defer ticker.Stop()
	for processed := int64(0); processed < video.LengthFrames; {
		select {
		case <-e.ctx.Done():
			return e.ctx.Err()
		case <-ticker.C:
		}
		processed = min(processed+e.conf.frames(), video.LengthFrames)
		if err := e.update(func(p *model.Process) {
			p.Progress = float64(processed) / float64(video.LengthFrames)
		}); err != nil {
			return err
		}
	}

	out, err := e.analyzer.Analyze(e.ctx, e.task, video)
	if err != nil {
		return err
	}
	prog.Keyframes = out.Keyframes
	if err := e.store.CommitOutput(prog, out.Events, out.Metadata); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return errProcessGone
		}
		return err
	}
	return nil
}
