package exector

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"videoterror/internal/dao"
	"videoterror/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	states []model.ProcessState
}

func (r *recorder) ProcessChanged(p *model.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.states); n == 0 || r.states[n-1] != p.State {
		r.states = append(r.states, p.State)
	}
}

func (r *recorder) seen() []model.ProcessState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ProcessState(nil), r.states...)
}

type fixture struct {
	store   *model.Store
	manager *Manager
	rec     *recorder
}

func newFixture(t *testing.T, conf Config) *fixture {
	store := model.NewMemoryStore()
	rec := &recorder{}
	m := NewManager(context.Background(), conf, store, NewCannedAnalyzer(store), rec)
	t.Cleanup(m.Shutdown)

	require.NoError(t, store.AddDataset(&model.Dataset{Id: "demo", Name: "demo"}))
	require.NoError(t, store.AddVideo(&model.Video{Id: "long", DatasetId: "demo", LengthFrames: 1500, Fps: 25}))
	require.NoError(t, store.AddVideo(&model.Video{Id: "short", DatasetId: "demo", LengthFrames: 750, Fps: 25}))
	return &fixture{store: store, manager: m, rec: rec}
}

func (f *fixture) addTask(t *testing.T, id string, kind model.TaskKind, prereq string, params ...dao.TaskParam) *model.Task {
	raw, err := dao.EncodeParams(params)
	require.NoError(t, err)
	task := &model.Task{Id: id, DatasetId: "demo", Module: "videotype", Kind: kind, PrereqTaskId: prereq, Params: raw}
	_, err = f.store.AddTask(task)
	require.NoError(t, err)
	return task
}

func (f *fixture) run(t *testing.T, task *model.Task, id string, videos ...string) Executor {
	proc := &model.Process{Id: id, DatasetId: "demo", TaskId: task.Id, VideoIds: videos, State: model.ProcessStateCreated}
	require.NoError(t, f.store.SaveProcess(proc))
	require.NoError(t, f.manager.Run(task, proc))
	e := f.manager.Get(id)
	require.NotNil(t, e)
	return e
}

func wait(t *testing.T, e Executor) {
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not finish")
	}
}

var fast = Config{TickIntervalMs: 1, FramesPerTick: 500}

func TestVideoProcessingKeyframes(t *testing.T) {
	f := newFixture(t, fast)
	task := f.addTask(t, "vp", model.TaskKindVideoProcessing, "", dao.IntParam("keyframe_freq", 50))
	e := f.run(t, task, "p1", "long", "short")
	wait(t, e)

	assert.Equal(t, model.ProcessStateFinished, e.Status())
	p, err := f.store.GetProcess("demo", "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateFinished, p.State)
	assert.Equal(t, 1.0, p.Progress)
	assert.Empty(t, p.CurrentItem)

	progress, err := f.store.ListProgress("demo", "vp")
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.True(t, progress["long"].Done)
	assert.Equal(t, int64(30), progress["long"].Keyframes)
	assert.Equal(t, int64(15), progress["short"].Keyframes)

	assert.Equal(t, []model.ProcessState{model.ProcessStateRunning, model.ProcessStateFinished}, f.rec.seen())
}

func TestMetadataUsesPrerequisiteKeyframes(t *testing.T) {
	f := newFixture(t, fast)
	vp := f.addTask(t, "vp", model.TaskKindVideoProcessing, "", dao.IntParam("keyframe_freq", 10))
	wait(t, f.run(t, vp, "p1", "long"))
	pm := f.addTask(t, "pm", model.TaskKindProcessingMetadata, "vp")
	wait(t, f.run(t, pm, "p2", "long"))

	meta, err := f.store.GetMetadata("demo", "pm", "long")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, map[int32]int64{0: 150, 1: 6}, meta.ClassOccurrence)
}

func TestEventDetectionCannedEvents(t *testing.T) {
	f := newFixture(t, fast)
	ed := f.addTask(t, "ed", model.TaskKindEventDetection, "pm")
	wait(t, f.run(t, ed, "p1", "long", "short"))

	long, err := f.store.GetEvents("demo", "ed", "long")
	require.NoError(t, err)
	require.Len(t, long.Events, 3)
	for _, ev := range long.Events {
		assert.Equal(t, int32(123), ev.GroupId)
		assert.GreaterOrEqual(t, ev.T2, ev.T1)
		assert.GreaterOrEqual(t, ev.Score, 0.0)
		assert.LessOrEqual(t, ev.Score, 1.0)
		require.Len(t, ev.Regions, 1)
	}
	assert.Equal(t, []float64{0.8, 0.9, 0.85}, []float64{long.Events[0].Score, long.Events[1].Score, long.Events[2].Score})

	short, err := f.store.GetEvents("demo", "ed", "short")
	require.NoError(t, err)
	require.Len(t, short.Events, 2)
	assert.Equal(t, 30.0, short.Events[1].T2Sec)
	assert.Equal(t, int64(750), short.Events[1].T2)
}

func TestEventDetectionMinScore(t *testing.T) {
	f := newFixture(t, fast)
	ed := f.addTask(t, "ed", model.TaskKindEventDetection, "pm", dao.FloatParam("min_score", 0.82))
	wait(t, f.run(t, ed, "p1", "long"))

	events, err := f.store.GetEvents("demo", "ed", "long")
	require.NoError(t, err)
	require.Len(t, events.Events, 2)
}

func TestStopProcess(t *testing.T) {
	f := newFixture(t, Config{TickIntervalMs: 20, FramesPerTick: 1})
	task := f.addTask(t, "vp", model.TaskKindVideoProcessing, "")
	e := f.run(t, task, "p1", "long")

	require.Eventually(t, func() bool {
		p := e.Process()
		return p.CurrentItem == "long" && p.Progress > 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.manager.Running())
	assert.True(t, f.manager.Busy("demo", "vp", "long"))
	assert.True(t, f.manager.BusyVideo("demo", "long"))

	assert.True(t, f.manager.Stop("p1"))
	assert.Equal(t, model.ProcessStateStopped, e.Status())

	p, err := f.store.GetProcess("demo", "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateStopped, p.State)
	prog, err := f.store.GetProgress("demo", "vp", "long")
	require.NoError(t, err)
	assert.False(t, prog.Done)
	assert.Empty(t, prog.ProcessId)

	require.Eventually(t, func() bool { return f.manager.Running() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.manager.Stop("p1"))
}

func TestMissingVideoFailsProcess(t *testing.T) {
	f := newFixture(t, fast)
	task := f.addTask(t, "vp", model.TaskKindVideoProcessing, "")
	e := f.run(t, task, "p1", "ghost")
	wait(t, e)

	p, err := f.store.GetProcess("demo", "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateFailed, p.State)
	assert.Contains(t, p.ErrorMessage, "Cannot find video")
}

func TestDeletedTaskEndsProcess(t *testing.T) {
	f := newFixture(t, Config{TickIntervalMs: 10, FramesPerTick: 10})
	task := f.addTask(t, "vp", model.TaskKindVideoProcessing, "")
	e := f.run(t, task, "p1", "long")

	_, err := f.store.DeleteTask("demo", "vp")
	require.NoError(t, err)
	wait(t, e)

	p, err := f.store.GetProcess("demo", "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAlreadyDoneVideosAreSkipped(t *testing.T) {
	f := newFixture(t, Config{TickIntervalMs: 1000, FramesPerTick: 1})
	task := f.addTask(t, "vp", model.TaskKindVideoProcessing, "")
	require.NoError(t, f.store.CommitOutput(&model.VideoProgress{DatasetId: "demo", TaskId: "vp", VideoId: "long"}, nil, nil))

	e := f.run(t, task, "p1", "long")
	wait(t, e)
	assert.Equal(t, model.ProcessStateFinished, e.Status())
}

func TestDecodeParamsOfStoredTask(t *testing.T) {
	raw, err := dao.EncodeParams([]dao.TaskParam{dao.IntParam("keyframe_freq", 25)})
	require.NoError(t, err)
	var generic []map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "TP_INT", generic[0]["type"])
}
