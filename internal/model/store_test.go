package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eachStore(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})
	t.Run("badger", func(t *testing.T) {
		s, err := OpenStore("")
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func seed(t *testing.T, s *Store) {
	now := time.Now()
	require.NoError(t, s.AddDataset(&Dataset{Id: "demo", Name: "demo", CreateTime: now}))
	require.NoError(t, s.AddDataset(&Dataset{Id: "other", Name: "other", CreateTime: now}))
	require.NoError(t, s.AddVideo(&Video{Id: "a", DatasetId: "demo", LengthFrames: 100, Fps: 25}))
	require.NoError(t, s.AddVideo(&Video{Id: "b", DatasetId: "demo", LengthFrames: 300, Fps: 25}))
	require.NoError(t, s.AddVideo(&Video{Id: "a", DatasetId: "other", LengthFrames: 50, Fps: 25}))

	for _, task := range []*Task{
		{Id: "vp", DatasetId: "demo", Module: "videotype", Kind: TaskKindVideoProcessing},
		{Id: "pm", DatasetId: "demo", Module: "videotype", Kind: TaskKindProcessingMetadata, PrereqTaskId: "vp"},
		{Id: "ed", DatasetId: "demo", Module: "events", Kind: TaskKindEventDetection, PrereqTaskId: "pm"},
	} {
		created, err := s.AddTask(task)
		require.NoError(t, err)
		require.True(t, created)
	}
	require.NoError(t, s.SaveProcess(&Process{Id: "p1", DatasetId: "demo", TaskId: "vp", VideoIds: []string{"a"}}))
	require.NoError(t, s.SaveProcess(&Process{Id: "p2", DatasetId: "demo", TaskId: "ed", VideoIds: []string{"a"}}))
}

func TestDatasets(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Store) {
		seed(t, s)

		err := s.AddDataset(&Dataset{Id: "demo", Name: "demo"})
		assert.True(t, errors.Is(err, ErrExists))

		first, err := s.ListDatasets()
		require.NoError(t, err)
		second, err := s.ListDatasets()
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "demo", first[0].Id)
		assert.Equal(t, "other", first[1].Id)
		assert.Equal(t, first, second)

		ds, err := s.GetDataset("missing")
		assert.NoError(t, err)
		assert.Nil(t, ds)

		m, err := s.DatasetMetrics("demo")
		require.NoError(t, err)
		assert.Equal(t, &DatasetMetrics{DatasetId: "demo", VideoCount: 2, TaskCount: 3, ProcessCount: 2}, m)
	})
}

func TestDeleteDatasetCascades(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Store) {
		seed(t, s)
		require.NoError(t, s.CommitOutput(&VideoProgress{DatasetId: "demo", TaskId: "ed", VideoId: "a"},
			&VideoEvents{DatasetId: "demo", TaskId: "ed", VideoId: "a", Events: []Event{{GroupId: 1}}}, nil))

		require.NoError(t, s.DeleteDataset("demo"))

		ds, err := s.GetDataset("demo")
		require.NoError(t, err)
		assert.Nil(t, ds)
		videos, err := s.ListVideos("demo")
		require.NoError(t, err)
		assert.Empty(t, videos)
		tasks, err := s.ListTasks("demo")
		require.NoError(t, err)
		assert.Empty(t, tasks)
		procs, err := s.ListProcesses("demo")
		require.NoError(t, err)
		assert.Empty(t, procs)
		events, err := s.GetEvents("demo", "ed", "a")
		require.NoError(t, err)
		assert.Nil(t, events)

		other, err := s.ListVideos("other")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}

func TestAddTaskIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Store) {
		seed(t, s)
		params, _ := json.Marshal([]map[string]any{{"name": "x"}})
		created, err := s.AddTask(&Task{Id: "vp", DatasetId: "demo", Module: "changed", Params: params})
		require.NoError(t, err)
		assert.False(t, created)

		task, err := s.GetTask("demo", "vp")
		require.NoError(t, err)
		assert.Equal(t, "videotype", task.Module)
	})
}

func TestDeleteTaskCascadesToDependents(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Store) {
		seed(t, s)
		require.NoError(t, s.CommitOutput(&VideoProgress{DatasetId: "demo", TaskId: "pm", VideoId: "a"},
			nil, &VideoMetadata{DatasetId: "demo", TaskId: "pm", VideoId: "a", ClassOccurrence: map[int32]int64{0: 4}}))

		deleted, err := s.DeleteTask("demo", "pm")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"pm", "ed"}, deleted)

		tasks, err := s.ListTasks("demo")
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "vp", tasks[0].Id)

		procs, err := s.ListProcesses("demo")
		require.NoError(t, err)
		require.Len(t, procs, 1)
		assert.Equal(t, "p1", procs[0].Id)

		meta, err := s.GetMetadata("demo", "pm", "a")
		require.NoError(t, err)
		assert.Nil(t, meta)
	})
}

func TestDeleteVideo(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Store) {
		seed(t, s)
		require.NoError(t, s.SetProgress(&VideoProgress{DatasetId: "demo", TaskId: "vp", VideoId: "a", Done: true}))
		require.NoError(t, s.SetProgress(&VideoProgress{DatasetId: "demo", TaskId: "vp", VideoId: "b", Done: true}))

		require.NoError(t, s.DeleteVideo("demo", "a"))

		v, err := s.GetVideo("demo", "a")
		require.NoError(t, err)
		assert.Nil(t, v)
		progress, err := s.ListProgress("demo", "vp")
		require.NoError(t, err)
		assert.Len(t, progress, 1)
		assert.Contains(t, progress, "b")
	})
}

func TestCommitOutputMarksDone(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Store) {
		seed(t, s)
		p := &VideoProgress{DatasetId: "demo", TaskId: "ed", VideoId: "b", ProcessId: "p2"}
		events := &VideoEvents{DatasetId: "demo", TaskId: "ed", VideoId: "b", Events: []Event{
			{GroupId: 123, Score: 0.8, T1Sec: 10, T2Sec: 20},
		}}
		require.NoError(t, s.CommitOutput(p, events, nil))

		got, err := s.GetProgress("demo", "ed", "b")
		require.NoError(t, err)
		assert.True(t, got.Done)
		stored, err := s.GetEvents("demo", "ed", "b")
		require.NoError(t, err)
		assert.Equal(t, events, stored)

		err = s.CommitOutput(&VideoProgress{DatasetId: "demo", TaskId: "gone", VideoId: "b"}, events, nil)
		assert.ErrorIs(t, err, ErrNotFound)
		missing, err := s.GetEvents("demo", "gone", "b")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestUpdateProcessRequiresExisting(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Store) {
		seed(t, s)
		p, err := s.GetProcess("demo", "p1")
		require.NoError(t, err)
		p.State = ProcessStateRunning
		require.NoError(t, s.UpdateProcess(p))

		err = s.UpdateProcess(&Process{Id: "nope", DatasetId: "demo"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryKVRollsBackOnError(t *testing.T) {
	kv := NewMemoryKV()
	boom := errors.New("boom")
	err := kv.Update(func(tx Txn) error {
		require.NoError(t, tx.Set("a", []byte("1")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = kv.View(func(tx Txn) error {
		_, err := tx.Get("a")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
