package exector

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"videoterror/internal/model"
	"videoterror/pkg/log"
)

// Manager owns the running processes of a server.
type Manager struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	executors map[string]Executor
	conf      Config
	store     *model.Store
	analyzer  Analyzer
	notifier  Notifier
	logger    *logrus.Entry
}

func NewManager(parentCtx context.Context, conf Config, store *model.Store, analyzer Analyzer, notifier Notifier) *Manager {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Manager{
		ctx:       ctx,
		cancel:    cancel,
		executors: make(map[string]Executor),
		conf:      conf,
		store:     store,
		analyzer:  analyzer,
		notifier:  notifier,
		logger:    log.GetLogger(ctx).WithField("component", "exector"),
	}
}

// Run starts proc, which must already be stored in CREATED state.
func (m *Manager) Run(task *model.Task, proc *model.Process) error {
	e := NewProcessRunner(m.ctx, m.conf, m.store, m.analyzer, m.notifier, task, proc)

	m.mu.Lock()
	m.executors[proc.Id] = e
	m.mu.Unlock()

	if err := e.Start(); err != nil {
		m.mu.Lock()
		delete(m.executors, proc.Id)
		m.mu.Unlock()
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-e.Done()
		m.forget(proc.Id, e)
	}()
	return nil
}

func (m *Manager) forget(processId string, e Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executors[processId] == e {
		delete(m.executors, processId)
	}
}

func (m *Manager) Get(processId string) Executor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executors[processId]
}

func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executors)
}

// Busy reports whether a running process of the task covers the video.
func (m *Manager) Busy(datasetId, taskId, videoId string) bool {
	for _, e := range m.list(func(p *model.Process) bool {
		return p.DatasetId == datasetId && p.TaskId == taskId
	}) {
		for _, id := range e.Process().VideoIds {
			if id == videoId {
				return true
			}
		}
	}
	return false
}

// BusyVideo reports whether any running process covers the video.
func (m *Manager) BusyVideo(datasetId, videoId string) bool {
	for _, e := range m.list(func(p *model.Process) bool { return p.DatasetId == datasetId }) {
		for _, id := range e.Process().VideoIds {
			if id == videoId {
				return true
			}
		}
	}
	return false
}

func (m *Manager) list(match func(p *model.Process) bool) []Executor {
	m.mu.Lock()
	defer m.mu.Unlock()
	var executors []Executor
	for _, e := range m.executors {
		select {
		case <-e.Done():
			continue
		default:
		}
		if match(e.Process()) {
			executors = append(executors, e)
		}
	}
	return executors
}

// Stop stops one process and reports whether it was running.
func (m *Manager) Stop(processId string) bool {
	e := m.Get(processId)
	if e == nil {
		return false
	}
	e.Stop()
	m.forget(processId, e)
	return true
}

func (m *Manager) stopAll(executors []Executor) {
	for _, e := range executors {
		e.Stop()
		m.forget(e.Process().Id, e)
	}
}

func (m *Manager) StopTasks(datasetId string, taskIds []string) {
	ids := make(map[string]bool, len(taskIds))
	for _, id := range taskIds {
		ids[id] = true
	}
	m.stopAll(m.list(func(p *model.Process) bool {
		return p.DatasetId == datasetId && ids[p.TaskId]
	}))
}

func (m *Manager) StopDataset(datasetId string) {
	m.stopAll(m.list(func(p *model.Process) bool { return p.DatasetId == datasetId }))
}

func (m *Manager) Shutdown() {
	m.cancel()
	m.stopAll(m.list(func(*model.Process) bool { return true }))
	m.wg.Wait()
	m.logger.Info("all processes stopped")
}
