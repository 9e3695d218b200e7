package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"videoterror/internal/client"
	"videoterror/internal/dao"
	"videoterror/internal/model"
	"videoterror/internal/rpc"
	"videoterror/pkg/log"
)

var ErrPollTimeout = errors.New("poll timeout")

// PollTimeoutError reports a task that did not complete within the polling
// budget. Progress is the last value seen.
type PollTimeoutError struct {
	TaskId   string
	Polls    int
	Elapsed  time.Duration
	Progress float64
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("task %s not done after %d polls in %s (progress %.2f)",
		e.TaskId, e.Polls, e.Elapsed.Round(time.Millisecond), e.Progress)
}

func (e *PollTimeoutError) Is(target error) bool {
	return target == ErrPollTimeout
}

// RemoteError is a call answered with success=false.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// StageError names the stage and the step a pipeline stopped at.
type StageError struct {
	Stage string
	Step  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Step, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

const (
	StepDataset = "dataset"
	StepVideo   = "video"
	StepCreate  = "create"
	StepRun     = "run"
	StepWait    = "wait"
	StepFetch   = "fetch"
)

type Config struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	// MaxInterval caps the exponential poll interval.
	MaxInterval   time.Duration `yaml:"maxInterval"`
	Exponential   bool          `yaml:"exponential"`
	MaxPolls      int           `yaml:"maxPolls"`
	MaxWait       time.Duration `yaml:"maxWait"`
	CreateRetries int           `yaml:"createRetries"`
	RetryInterval time.Duration `yaml:"retryInterval"`
	// StopTimeout bounds the stopProcess call issued after cancellation.
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Second,
		MaxInterval:   10 * time.Second,
		MaxPolls:      120,
		MaxWait:       5 * time.Minute,
		CreateRetries: 3,
		RetryInterval: 500 * time.Millisecond,
		StopTimeout:   5 * time.Second,
	}
}

// API is the part of the client the orchestrator drives.
type API interface {
	AddDataset(ctx context.Context, req *dao.AddDatasetRequest, opts ...client.CallOption) (*dao.AddDatasetResponse, error)
	DeleteDataset(ctx context.Context, req *dao.DeleteDatasetRequest, opts ...client.CallOption) (*dao.DeleteDatasetResponse, error)
	AddVideo(ctx context.Context, req *dao.AddVideoRequest, opts ...client.CallOption) (*dao.AddVideoResponse, error)
	DeleteVideo(ctx context.Context, req *dao.DeleteVideoRequest, opts ...client.CallOption) (*dao.DeleteVideoResponse, error)
	AddTaskVideoProcessing(ctx context.Context, req *dao.AddTaskVideoProcessingRequest, opts ...client.CallOption) (*dao.AddTaskVideoProcessingResponse, error)
	AddTaskProcessingMetadata(ctx context.Context, req *dao.AddTaskProcessingMetadataRequest, opts ...client.CallOption) (*dao.AddTaskProcessingMetadataResponse, error)
	AddTaskEventDetection(ctx context.Context, req *dao.AddTaskEventDetectionRequest, opts ...client.CallOption) (*dao.AddTaskEventDetectionResponse, error)
	GetTaskInfo(ctx context.Context, req *dao.GetTaskInfoRequest, opts ...client.CallOption) (*dao.GetTaskInfoResponse, error)
	GetTaskProgress(ctx context.Context, req *dao.GetTaskProgressRequest, opts ...client.CallOption) (*dao.GetTaskProgressResponse, error)
	DeleteTask(ctx context.Context, req *dao.DeleteTaskRequest, opts ...client.CallOption) (*dao.DeleteTaskResponse, error)
	RunProcess(ctx context.Context, req *dao.RunProcessRequest, opts ...client.CallOption) (*dao.RunProcessResponse, error)
	GetProcessInfo(ctx context.Context, req *dao.GetProcessInfoRequest, opts ...client.CallOption) (*dao.GetProcessInfoResponse, error)
	StopProcess(ctx context.Context, req *dao.StopProcessRequest, opts ...client.CallOption) (*dao.StopProcessResponse, error)
	GetEventList(ctx context.Context, req *dao.GetEventListRequest, opts ...client.CallOption) (*dao.GetEventListResponse, error)
	GetEventsStats(ctx context.Context, req *dao.GetEventsStatsRequest, opts ...client.CallOption) (*dao.GetEventsStatsResponse, error)
	GetProcessingMetadata(ctx context.Context, req *dao.GetProcessingMetadataRequest, opts ...client.CallOption) (*dao.GetProcessingMetadataResponse, error)
}

var _ API = (*client.Client)(nil)

type StageKind string

const (
	StageVideoProcessing    StageKind = "video_processing"
	StageProcessingMetadata StageKind = "processing_metadata"
	StageEventDetection     StageKind = "event_detection"
)

func (k StageKind) TaskKind() model.TaskKind {
	switch k {
	case StageVideoProcessing:
		return model.TaskKindVideoProcessing
	case StageProcessingMetadata:
		return model.TaskKindProcessingMetadata
	case StageEventDetection:
		return model.TaskKindEventDetection
	}
	return model.TaskKindUnknown
}

// Param is a task parameter as written in a pipeline file. Value goes into
// the value field selected by Type.
type Param struct {
	Type  dao.ParamType `yaml:"type"`
	Name  string        `yaml:"name"`
	Value any           `yaml:"value"`
}

func (p Param) TaskParam() (dao.TaskParam, error) {
	props := map[string]any{"type": string(p.Type), "name": p.Name}
	if field, ok := (&dao.TaskParam{}).Variants()[string(p.Type)]; ok && p.Value != nil {
		props[field] = p.Value
	}
	built, err := rpc.Build(reflect.TypeOf(dao.TaskParam{}), props)
	if err != nil {
		return dao.TaskParam{}, fmt.Errorf("param %s: %w", p.Name, err)
	}
	return *built.(*dao.TaskParam), nil
}

type StageSpec struct {
	Name   string    `yaml:"name"`
	Kind   StageKind `yaml:"kind"`
	Module string    `yaml:"module"`
	// Prereq names an earlier stage of the same pipeline.
	Prereq string  `yaml:"prereq"`
	Params []Param `yaml:"params"`
	// Filter narrows the fetched events of an event detection stage.
	Filter *dao.EventFilter `yaml:"-"`
}

func (s *StageSpec) taskParams() ([]dao.TaskParam, error) {
	params := make([]dao.TaskParam, 0, len(s.Params))
	for _, p := range s.Params {
		tp, err := p.TaskParam()
		if err != nil {
			return nil, err
		}
		params = append(params, tp)
	}
	return params, nil
}

// StageResult holds what a stage produced.
type StageResult struct {
	Stage     string
	TaskId    string
	ProcessId string
	Progress  *dao.TaskProgress
	Task      *dao.TaskInfo
	Events    []dao.EventInfoList
	Stats     []dao.EventStats
	Metadata  *dao.MetadataVideotype
}

type Orchestrator struct {
	api    API
	conf   Config
	logger *logrus.Entry
}

func New(api API, conf Config) *Orchestrator {
	return &Orchestrator{
		api:    api,
		conf:   conf,
		logger: log.NewLogger().WithField("component", "orchestrator"),
	}
}

func (o *Orchestrator) WithLogger(logger *logrus.Entry) *Orchestrator {
	o.logger = logger.WithField("component", "orchestrator")
	return o
}

func result(op string, resp interface{ Result() *dao.RequestResult }) error {
	res := resp.Result()
	if res.Success {
		return nil
	}
	return &RemoteError{Op: op, Message: res.Error}
}

// RunStage creates the task of spec, runs it over videoIds, waits for it and
// fetches its results. An empty videoIds means every video of the dataset.
// On failure the returned result holds what the stage got to.
func (o *Orchestrator) RunStage(ctx context.Context, datasetId string, spec StageSpec, prereqTaskId string, videoIds []string) (*StageResult, error) {
	res := &StageResult{Stage: spec.Name}
	fail := func(step string, err error) (*StageResult, error) {
		return res, &StageError{Stage: spec.Name, Step: step, Err: err}
	}
	logger := o.logger.WithField("stage", spec.Name)

	taskId, err := o.createTask(ctx, datasetId, spec, prereqTaskId)
	if err != nil {
		return fail(StepCreate, err)
	}
	res.TaskId = taskId
	logger.Infof("task %s created", taskId)

	run, err := o.api.RunProcess(ctx, &dao.RunProcessRequest{DatasetId: datasetId, TaskId: taskId, VideoIds: videoIds})
	if err != nil {
		return fail(StepRun, err)
	} else if err := result("runProcess", run); err != nil {
		return fail(StepRun, err)
	}
	res.ProcessId = run.ProcessId
	logger.Infof("process %s started", run.ProcessId)

	res.Progress, err = o.WaitForTask(ctx, datasetId, taskId, run.ProcessId, videoIds)
	if err != nil {
		return fail(StepWait, err)
	}
	if err := o.fetch(ctx, datasetId, spec, videoIds, res); err != nil {
		return fail(StepFetch, err)
	}
	logger.Infof("stage done")
	return res, nil
}

// createTask retries transport failures and unanswered calls. Creation is
// idempotent on the server, so a retried create yields the same task id.
func (o *Orchestrator) createTask(ctx context.Context, datasetId string, spec StageSpec, prereqTaskId string) (string, error) {
	params, err := spec.taskParams()
	if err != nil {
		return "", err
	}
	create := func() (string, error) {
		var (
			taskId string
			resp   interface{ Result() *dao.RequestResult }
			op     string
			err    error
		)
		switch spec.Kind {
		case StageVideoProcessing:
			op = "addTaskVideoProcessing"
			var r *dao.AddTaskVideoProcessingResponse
			r, err = o.api.AddTaskVideoProcessing(ctx, &dao.AddTaskVideoProcessingRequest{
				DatasetId: datasetId, Module: spec.Module, Params: params,
			})
			if err == nil {
				resp, taskId = r, r.TaskId
			}
		case StageProcessingMetadata:
			op = "addTaskProcessingMetadata"
			var r *dao.AddTaskProcessingMetadataResponse
			r, err = o.api.AddTaskProcessingMetadata(ctx, &dao.AddTaskProcessingMetadataRequest{
				DatasetId: datasetId, Module: spec.Module, PrereqTaskId: prereqTaskId, Params: params,
			})
			if err == nil {
				resp, taskId = r, r.TaskId
			}
		case StageEventDetection:
			op = "addTaskEventDetection"
			var r *dao.AddTaskEventDetectionResponse
			r, err = o.api.AddTaskEventDetection(ctx, &dao.AddTaskEventDetectionRequest{
				DatasetId: datasetId, Module: spec.Module, PrereqTaskId: prereqTaskId, Params: params,
			})
			if err == nil {
				resp, taskId = r, r.TaskId
			}
		default:
			return "", backoff.Permanent(fmt.Errorf("unknown stage kind %q", spec.Kind))
		}
		if err != nil {
			if errors.Is(err, rpc.ErrEncoding) || ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if res := resp.Result(); !res.Success {
			rerr := &RemoteError{Op: op, Message: res.Error}
			if res.Error == dao.ErrNoAnswer {
				return "", rerr
			}
			return "", backoff.Permanent(rerr)
		}
		return taskId, nil
	}

	tries := max(o.conf.CreateRetries, 1)
	return backoff.Retry(ctx, create,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.conf.RetryInterval)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.logger.WithError(err).Warnf("task creation failed, retrying in %s", next)
		}),
	)
}

func (o *Orchestrator) newBackOff() backoff.BackOff {
	if !o.conf.Exponential {
		return backoff.NewConstantBackOff(o.conf.PollInterval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.conf.PollInterval
	if o.conf.MaxInterval > 0 {
		b.MaxInterval = o.conf.MaxInterval
	}
	return b
}

var errNotDone = errors.New("task not done")

// WaitForTask polls the progress of taskId until it reaches 1. A failed
// query or an ended process aborts the wait. When ctx is cancelled the
// process is asked to stop and the context error is returned.
func (o *Orchestrator) WaitForTask(ctx context.Context, datasetId, taskId, processId string, videoIds []string) (*dao.TaskProgress, error) {
	start := time.Now()
	polls := 0
	last := &dao.TaskProgress{}

	poll := func() (*dao.TaskProgress, error) {
		polls++
		resp, err := o.api.GetTaskProgress(ctx, &dao.GetTaskProgressRequest{
			DatasetId: datasetId, TaskId: taskId, VideoIds: videoIds,
		})
		if err != nil {
			return nil, backoff.Permanent(err)
		} else if err := result("getTaskProgress", resp); err != nil {
			return nil, backoff.Permanent(err)
		}
		if resp.TaskProgress != nil {
			last = resp.TaskProgress
		}
		if last.Progress >= 1 {
			return last, nil
		}
		if processId != "" {
			if err := o.checkProcess(ctx, datasetId, processId); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		o.logger.Debugf("task %s progress %.2f", taskId, last.Progress)
		return nil, errNotDone
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(o.newBackOff())}
	if o.conf.MaxPolls > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(o.conf.MaxPolls)))
	}
	if o.conf.MaxWait > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(o.conf.MaxWait))
	}
	progress, err := backoff.Retry(ctx, poll, opts...)
	if err == nil {
		return progress, nil
	}
	if ctx.Err() != nil {
		o.stop(ctx, datasetId, processId)
		return nil, ctx.Err()
	}
	if errors.Is(err, errNotDone) {
		return last, &PollTimeoutError{TaskId: taskId, Polls: polls, Elapsed: time.Since(start), Progress: last.Progress}
	}
	return nil, err
}

// checkProcess fails once the process ended without finishing.
func (o *Orchestrator) checkProcess(ctx context.Context, datasetId, processId string) error {
	resp, err := o.api.GetProcessInfo(ctx, &dao.GetProcessInfoRequest{DatasetId: datasetId, ProcessIds: []string{processId}})
	if err != nil {
		return err
	} else if err := result("getProcessInfo", resp); err != nil {
		return err
	}
	for _, p := range resp.Processes {
		if p.State == model.ProcessStateFailed || p.State == model.ProcessStateStopped {
			return &RemoteError{Op: "getProcessInfo", Message: fmt.Sprintf("process %s is %s: %s", p.ProcessId, p.State, p.ErrorMessage)}
		}
	}
	return nil
}

func (o *Orchestrator) stop(ctx context.Context, datasetId, processId string) {
	if processId == "" {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.conf.StopTimeout)
	defer cancel()
	resp, err := o.api.StopProcess(stopCtx, &dao.StopProcessRequest{DatasetId: datasetId, ProcessId: processId})
	if err == nil {
		err = result("stopProcess", resp)
	}
	if err != nil {
		o.logger.WithError(err).Warnf("failed to stop process %s", processId)
		return
	}
	o.logger.Infof("process %s asked to stop", processId)
}

func (o *Orchestrator) fetch(ctx context.Context, datasetId string, spec StageSpec, videoIds []string, res *StageResult) error {
	info, err := o.api.GetTaskInfo(ctx, &dao.GetTaskInfoRequest{DatasetId: datasetId, TaskIds: []string{res.TaskId}})
	if err != nil {
		return err
	} else if err := result("getTaskInfo", info); err != nil {
		return err
	}
	if len(info.Tasks) > 0 {
		res.Task = &info.Tasks[0]
	}

	switch spec.Kind {
	case StageEventDetection:
		events, err := o.api.GetEventList(ctx, &dao.GetEventListRequest{
			DatasetId: datasetId, TaskId: res.TaskId, VideoIds: videoIds, Filter: spec.Filter,
		})
		if err != nil {
			return err
		} else if err := result("getEventList", events); err != nil {
			return err
		}
		res.Events = events.EventsList

		stats, err := o.api.GetEventsStats(ctx, &dao.GetEventsStatsRequest{
			DatasetId: datasetId, TaskId: res.TaskId, VideoIds: videoIds, Filter: spec.Filter,
		})
		if err != nil {
			return err
		} else if err := result("getEventsStats", stats); err != nil {
			return err
		}
		res.Stats = stats.Stats
	case StageProcessingMetadata:
		md, err := o.api.GetProcessingMetadata(ctx, &dao.GetProcessingMetadataRequest{
			DatasetId: datasetId, TaskId: res.TaskId, VideoIds: videoIds,
		})
		if err != nil {
			return err
		} else if err := result("getProcessingMetadata", md); err != nil {
			return err
		}
		res.Metadata = md.MetadataVideotype
	}
	return nil
}
