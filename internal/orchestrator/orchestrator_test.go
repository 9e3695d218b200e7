package orchestrator

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"videoterror/internal/client"
	"videoterror/internal/config"
	"videoterror/internal/dao"
	"videoterror/internal/exector"
	"videoterror/internal/model"
	"videoterror/internal/rpc"
	"videoterror/internal/server"
	"videoterror/internal/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

var fast = Config{
	PollInterval:  2 * time.Millisecond,
	MaxPolls:      5000,
	MaxWait:       10 * time.Second,
	CreateRetries: 3,
	RetryInterval: time.Millisecond,
	StopTimeout:   time.Second,
}

func newClient(t *testing.T) *client.Client {
	conf := config.DefaultConfig()
	conf.MetadataDir = ""
	conf.Runner = exector.Config{TickIntervalMs: 1, FramesPerTick: 500}
	store := model.NewMemoryStore()
	srv, err := server.NewServer(context.Background(), conf, store, server.WithStorage(storage.InPlace{}))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.SetUpRouter())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
		store.Close()
	})
	c, err := client.NewClient(ts.URL, client.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return c
}

func videoFile(t *testing.T, name string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0644))
	return path
}

func demoPipeline(t *testing.T) *Pipeline {
	return &Pipeline{
		Dataset: "demo",
		Videos: []VideoSpec{
			{Filepath: videoFile(t, "video.mp4"), StartTime: "2020-09-13T12:26:40Z"},
		},
		Stages: []StageSpec{
			{Name: "vp", Kind: StageVideoProcessing, Module: "videotype",
				Params: []Param{{Type: dao.ParamInt, Name: "keyframe_freq", Value: 25}}},
			{Name: "pm", Kind: StageProcessingMetadata, Module: "videotype", Prereq: "vp"},
			{Name: "ed", Kind: StageEventDetection, Module: "events", Prereq: "pm"},
		},
	}
}

func TestRunPipeline(t *testing.T) {
	c := newClient(t)
	o := New(c, fast)
	ctx := context.Background()

	report, err := o.Run(ctx, demoPipeline(t))
	require.NoError(t, err)
	assert.Equal(t, "demo", report.DatasetId)
	assert.Equal(t, []string{"video"}, report.VideoIds)
	require.Len(t, report.Stages, 3)
	assert.Len(t, report.TaskIds, 3)

	vp := report.Stage("vp")
	require.NotNil(t, vp.Task)
	assert.Equal(t, model.TaskKindVideoProcessing, vp.Task.TaskType)
	assert.Equal(t, 1.0, vp.Progress.Progress)
	assert.NotEmpty(t, vp.ProcessId)

	pm := report.Stage("pm")
	assert.Equal(t, vp.TaskId, pm.Task.PrereqTaskId)
	require.NotNil(t, pm.Metadata)
	require.NotEmpty(t, pm.Metadata.ClassIdOccurence)
	assert.Equal(t, dao.ClassIdOccurence{ClassId: 0, Occurrence: 60}, pm.Metadata.ClassIdOccurence[0])

	ed := report.Stage("ed")
	assert.Equal(t, StageEventDetection.TaskKind(), ed.Task.TaskType)
	require.Len(t, ed.Events, 1)
	assert.Len(t, ed.Events[0].Events, 3)
	for _, e := range ed.Events[0].Events {
		assert.GreaterOrEqual(t, e.T2Sec, e.T1Sec, "%+v", e)
		assert.GreaterOrEqual(t, e.T2, e.T1, "%+v", e)
		assert.True(t, e.Score >= 0 && e.Score <= 1, "%+v", e)
	}
	if diff := cmp.Diff([]dao.EventStats{{VideoId: "video", Count: 3, Coverage: 0.5}}, ed.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	// the same pipeline again finds the dataset taken
	_, err = o.Run(ctx, demoPipeline(t))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StepDataset, stageErr.Step)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "addDataset", remote.Op)

	require.NoError(t, o.Teardown(ctx, report))
	list, err := c.GetDatasetList(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list.Datasets)
}

func TestRunPipelineTeardown(t *testing.T) {
	c := newClient(t)
	p := demoPipeline(t)
	p.Teardown = true
	p.Stages[2].Filter = &dao.EventFilter{MinDuration: 11}

	report, err := New(c, fast).Run(context.Background(), p)
	require.NoError(t, err)
	ed := report.Stage("ed")
	require.Len(t, ed.Events, 1)
	assert.Empty(t, ed.Events[0].Events)
	assert.Equal(t, int64(0), ed.Stats[0].Count)

	list, err := c.GetDatasetList(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, list.Datasets)
}

func TestRunPipelineStopsAtFailedStep(t *testing.T) {
	c := newClient(t)
	p := demoPipeline(t)
	p.Teardown = true
	p.Videos = append(p.Videos, VideoSpec{Filepath: "/does/not/exist.mp4"})

	report, err := New(c, fast).Run(context.Background(), p)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "setup", stageErr.Stage)
	assert.Equal(t, StepVideo, stageErr.Step)
	assert.Equal(t, []string{"video"}, report.VideoIds)
	assert.Empty(t, report.Stages)

	list, err := c.GetDatasetList(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, list.Datasets)
}

// fakeAPI answers the calls of a single stage. Calls it does not implement
// panic through the nil embedded API.
type fakeAPI struct {
	API
	calls    map[string]int
	addTask  func(n int) (*dao.AddTaskVideoProcessingResponse, error)
	run      *dao.RunProcessResponse
	progress func(n int) *dao.GetTaskProgressResponse
	state    model.ProcessState
	stopped  []string
}

func newFake() *fakeAPI {
	return &fakeAPI{
		calls: make(map[string]int),
		addTask: func(int) (*dao.AddTaskVideoProcessingResponse, error) {
			return &dao.AddTaskVideoProcessingResponse{Response: dao.OK(), TaskId: "t1"}, nil
		},
		run: &dao.RunProcessResponse{Response: dao.OK(), ProcessId: "p1"},
		progress: func(n int) *dao.GetTaskProgressResponse {
			return &dao.GetTaskProgressResponse{Response: dao.OK(), TaskProgress: &dao.TaskProgress{Progress: 1}}
		},
		state: model.ProcessStateRunning,
	}
}

func (f *fakeAPI) AddTaskVideoProcessing(_ context.Context, _ *dao.AddTaskVideoProcessingRequest, _ ...client.CallOption) (*dao.AddTaskVideoProcessingResponse, error) {
	f.calls["addTaskVideoProcessing"]++
	return f.addTask(f.calls["addTaskVideoProcessing"])
}

func (f *fakeAPI) RunProcess(_ context.Context, _ *dao.RunProcessRequest, _ ...client.CallOption) (*dao.RunProcessResponse, error) {
	f.calls["runProcess"]++
	return f.run, nil
}

func (f *fakeAPI) GetTaskProgress(_ context.Context, _ *dao.GetTaskProgressRequest, _ ...client.CallOption) (*dao.GetTaskProgressResponse, error) {
	f.calls["getTaskProgress"]++
	return f.progress(f.calls["getTaskProgress"]), nil
}

func (f *fakeAPI) GetProcessInfo(_ context.Context, req *dao.GetProcessInfoRequest, _ ...client.CallOption) (*dao.GetProcessInfoResponse, error) {
	f.calls["getProcessInfo"]++
	return &dao.GetProcessInfoResponse{Response: dao.OK(), Processes: []dao.ProcessInfo{
		{ProcessId: req.ProcessIds[0], State: f.state, ErrorMessage: "boom"},
	}}, nil
}

func (f *fakeAPI) StopProcess(_ context.Context, req *dao.StopProcessRequest, _ ...client.CallOption) (*dao.StopProcessResponse, error) {
	f.stopped = append(f.stopped, req.ProcessId)
	return &dao.StopProcessResponse{Response: dao.OK()}, nil
}

func (f *fakeAPI) GetTaskInfo(_ context.Context, req *dao.GetTaskInfoRequest, _ ...client.CallOption) (*dao.GetTaskInfoResponse, error) {
	f.calls["getTaskInfo"]++
	return &dao.GetTaskInfoResponse{Response: dao.OK(), Tasks: []dao.TaskInfo{{TaskId: req.TaskIds[0]}}}, nil
}

func halfDone(int) *dao.GetTaskProgressResponse {
	return &dao.GetTaskProgressResponse{Response: dao.OK(), TaskProgress: &dao.TaskProgress{Progress: 0.5}}
}

var vpStage = StageSpec{Name: "vp", Kind: StageVideoProcessing, Module: "videotype"}

func TestWaitForTaskTimeout(t *testing.T) {
	f := newFake()
	f.progress = halfDone
	conf := fast
	conf.MaxPolls = 3
	o := New(f, conf)

	progress, err := o.WaitForTask(context.Background(), "demo", "t1", "p1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollTimeout))
	var timeout *PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Polls)
	assert.Equal(t, 0.5, timeout.Progress)
	assert.Equal(t, 0.5, progress.Progress)
	assert.Equal(t, 3, f.calls["getTaskProgress"])
	assert.Empty(t, f.stopped)
}

func TestWaitForTaskMaxWait(t *testing.T) {
	f := newFake()
	f.progress = halfDone
	conf := fast
	conf.PollInterval = 5 * time.Millisecond
	conf.MaxWait = 30 * time.Millisecond
	conf.Exponential = true

	_, err := New(f, conf).WaitForTask(context.Background(), "demo", "t1", "", nil)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Zero(t, f.calls["getProcessInfo"])
}

func TestWaitForTaskFailedQuery(t *testing.T) {
	f := newFake()
	f.progress = func(int) *dao.GetTaskProgressResponse {
		return &dao.GetTaskProgressResponse{Response: dao.Fail("Cannot find task t1")}
	}
	_, err := New(f, fast).WaitForTask(context.Background(), "demo", "t1", "p1", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "getTaskProgress", remote.Op)
	assert.Equal(t, "Cannot find task t1", remote.Message)
	assert.Equal(t, 1, f.calls["getTaskProgress"])
}

func TestWaitForTaskProcessFailed(t *testing.T) {
	f := newFake()
	f.progress = halfDone
	f.state = model.ProcessStateFailed
	_, err := New(f, fast).WaitForTask(context.Background(), "demo", "t1", "p1", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "FAILED")
	assert.Contains(t, remote.Message, "boom")
	assert.Equal(t, 1, f.calls["getTaskProgress"])
}

func TestWaitForTaskCancelStopsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFake()
	f.progress = func(n int) *dao.GetTaskProgressResponse {
		if n == 2 {
			cancel()
		}
		return halfDone(n)
	}
	conf := fast
	conf.PollInterval = 50 * time.Millisecond

	_, err := New(f, conf).WaitForTask(ctx, "demo", "t1", "p1", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"p1"}, f.stopped)
	assert.Equal(t, 2, f.calls["getTaskProgress"])
}

func TestCreateRetriesTransportErrors(t *testing.T) {
	f := newFake()
	f.addTask = func(n int) (*dao.AddTaskVideoProcessingResponse, error) {
		switch n {
		case 1:
			return nil, &client.TransportError{Op: "addTaskVideoProcessing", Kind: client.KindConnect, Err: errors.New("connection refused")}
		case 2:
			return &dao.AddTaskVideoProcessingResponse{Response: dao.Fail(dao.ErrNoAnswer)}, nil
		}
		return &dao.AddTaskVideoProcessingResponse{Response: dao.OK(), TaskId: "t1"}, nil
	}

	res, err := New(f, fast).RunStage(context.Background(), "demo", vpStage, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls["addTaskVideoProcessing"])
	assert.Equal(t, "t1", res.TaskId)
	assert.Equal(t, "p1", res.ProcessId)
	assert.Equal(t, "t1", res.Task.TaskId)
	assert.Equal(t, 1, f.calls["getTaskInfo"])
}

func TestCreateGivesUp(t *testing.T) {
	f := newFake()
	f.addTask = func(int) (*dao.AddTaskVideoProcessingResponse, error) {
		return nil, &client.TransportError{Op: "addTaskVideoProcessing", Kind: client.KindConnect, Err: errors.New("connection refused")}
	}
	_, err := New(f, fast).RunStage(context.Background(), "demo", vpStage, "", nil)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StepCreate, stageErr.Step)
	assert.ErrorIs(t, err, client.ErrTransport)
	assert.Equal(t, 3, f.calls["addTaskVideoProcessing"])
	assert.Zero(t, f.calls["runProcess"])
}

func TestCreateRemoteFailureIsFinal(t *testing.T) {
	f := newFake()
	f.addTask = func(int) (*dao.AddTaskVideoProcessingResponse, error) {
		return &dao.AddTaskVideoProcessingResponse{Response: dao.Fail("Cannot find dataset demo")}, nil
	}
	res, err := New(f, fast).RunStage(context.Background(), "demo", vpStage, "", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "addTaskVideoProcessing", remote.Op)
	assert.Equal(t, 1, f.calls["addTaskVideoProcessing"])
	assert.Empty(t, res.TaskId)
}

func TestStageStopsAfterFailedRun(t *testing.T) {
	f := newFake()
	f.run = &dao.RunProcessResponse{Response: dao.Fail("Prerequisite task x is not done for video v")}
	res, err := New(f, fast).RunStage(context.Background(), "demo", vpStage, "", nil)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StepRun, stageErr.Step)
	assert.Equal(t, "vp", stageErr.Stage)
	assert.Equal(t, "t1", res.TaskId)
	assert.Zero(t, f.calls["getTaskProgress"])
	assert.Zero(t, f.calls["getTaskInfo"])
}

func TestParams(t *testing.T) {
	p, err := Param{Type: dao.ParamIntArray, Name: "classes", Value: []any{1, 2}}.TaskParam()
	require.NoError(t, err)
	assert.Equal(t, dao.IntArrayParam("classes", 1, 2), p)

	p, err = Param{Type: dao.ParamFloat, Name: "min_score", Value: 0.8}.TaskParam()
	require.NoError(t, err)
	assert.Equal(t, dao.FloatParam("min_score", 0.8), p)

	_, err = Param{Type: "TP_COLOUR", Name: "c", Value: "red"}.TaskParam()
	assert.ErrorIs(t, err, rpc.ErrEncoding)
	_, err = Param{Type: dao.ParamInt, Name: "n"}.TaskParam()
	assert.ErrorIs(t, err, rpc.ErrEncoding)
	_, err = Param{Type: dao.ParamInt, Name: "n", Value: "ten"}.TaskParam()
	assert.ErrorIs(t, err, rpc.ErrEncoding)
}

const pipelineYAML = `
dataset: demo
videos:
  - filepath: /data/video.mp4
    startTime: "2020-09-13T12:26:40Z"
stages:
  - name: vp
    kind: video_processing
    module: videotype
    params:
      - {type: TP_INT, name: keyframe_freq, value: 25}
  - name: pm
    kind: processing_metadata
    module: videotype
    prereq: vp
  - name: ed
    kind: event_detection
    module: events
    prereq: pm
    params:
      - {type: TP_FLOAT, name: min_score, value: 0.82}
teardown: true
orchestrator:
  pollInterval: 250ms
  maxPolls: 10
`

func TestLoadPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0644))

	p, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Dataset)
	assert.True(t, p.Teardown)
	assert.Equal(t, 250*time.Millisecond, p.Orchestrator.PollInterval)
	assert.Equal(t, 10, p.Orchestrator.MaxPolls)
	assert.Equal(t, 3, p.Orchestrator.CreateRetries)
	require.Len(t, p.Stages, 3)
	assert.Equal(t, "pm", p.Stages[2].Prereq)

	params, err := p.Stages[0].taskParams()
	require.NoError(t, err)
	assert.Equal(t, []dao.TaskParam{dao.IntParam("keyframe_freq", 25)}, params)
	params, err = p.Stages[1].taskParams()
	require.NoError(t, err)
	assert.Empty(t, params)

	req, err := p.Videos[0].request("demo")
	require.NoError(t, err)
	assert.Equal(t, int64(1600000000), req.StartTime.Seconds)

	_, err = LoadPipeline(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(p *Pipeline){
		"no dataset":        func(p *Pipeline) { p.Dataset = "" },
		"duplicate stage":   func(p *Pipeline) { p.Stages[1].Name = "vp" },
		"unknown prereq":    func(p *Pipeline) { p.Stages[2].Prereq = "later" },
		"missing prereq":    func(p *Pipeline) { p.Stages[1].Prereq = "" },
		"prereq on vp":      func(p *Pipeline) { p.Stages[0].Prereq = "pm" },
		"unknown kind":      func(p *Pipeline) { p.Stages[0].Kind = "transcode" },
		"no module":         func(p *Pipeline) { p.Stages[0].Module = "" },
		"bad param":         func(p *Pipeline) { p.Stages[0].Params[0].Value = 2.5 },
		"forward reference": func(p *Pipeline) { p.Stages[1].Prereq = "ed" },
	}
	require.NoError(t, demoPipeline(t).Validate())
	for name, mutate := range cases {
		p := demoPipeline(t)
		mutate(p)
		assert.Error(t, p.Validate(), name)
	}
}
