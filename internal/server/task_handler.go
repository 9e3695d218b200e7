package server

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"videoterror/internal/dao"
	"videoterror/internal/model"
	"videoterror/pkg/log"
)

// taskId derives the id from everything that defines the task, so adding the
// same task twice yields the same id.
func taskId(kind model.TaskKind, module, prereq string, params []byte) string {
	h := xxhash.New()
	for _, part := range [][]byte{[]byte(kind), []byte(module), []byte(prereq), params} {
		_, _ = h.Write(part)
		_, _ = h.Write([]byte{'|'})
	}
	return fmt.Sprintf("%s_%016x_%s", module, h.Sum64(), kind.Suffix())
}

func (s *Server) findTask(datasetId, id string) (*model.Task, error) {
	t, err := s.store.GetTask(datasetId, id)
	if err != nil {
		return nil, err
	} else if t == nil {
		return nil, failf("Cannot find task %s in dataset %s", id, datasetId)
	}
	return t, nil
}

// prereqKinds lists the task kinds a task of each kind may depend on.
var prereqKinds = map[model.TaskKind][]model.TaskKind{
	model.TaskKindProcessingMetadata: {model.TaskKindVideoProcessing},
	model.TaskKindEventDetection:     {model.TaskKindVideoProcessing, model.TaskKindProcessingMetadata},
}

func (s *Server) addTask(ctx context.Context, datasetId, module string, kind model.TaskKind,
	prereqId string, params []dao.TaskParam) (string, error) {
	if _, err := s.findDataset(datasetId); err != nil {
		return "", err
	}
	if prereqId != "" {
		prereq, err := s.store.GetTask(datasetId, prereqId)
		if err != nil {
			return "", err
		} else if prereq == nil {
			return "", failf("Cannot find prerequisite task %s", prereqId)
		}
		allowed := false
		for _, k := range prereqKinds[kind] {
			allowed = allowed || prereq.Kind == k
		}
		if !allowed {
			return "", failf("Task of type %s cannot depend on task %s of type %s", kind, prereqId, prereq.Kind)
		}
	}

	raw, err := dao.EncodeParams(params)
	if err != nil {
		return "", err
	}
	t := &model.Task{
		Id:           taskId(kind, module, prereqId, raw),
		DatasetId:    datasetId,
		Module:       module,
		Kind:         kind,
		Params:       raw,
		PrereqTaskId: prereqId,
		AddedTime:    time.Now(),
	}
	created, err := s.store.AddTask(t)
	if err != nil {
		return "", err
	}
	if created {
		log.GetLogger(ctx).Infof("task %s added to dataset %s", t.Id, datasetId)
	} else {
		log.GetLogger(ctx).Debugf("task %s already exists", t.Id)
	}
	return t.Id, nil
}

func (s *Server) addTaskVideoProcessing(ctx context.Context, req *dao.AddTaskVideoProcessingRequest) (*dao.AddTaskVideoProcessingResponse, error) {
	id, err := s.addTask(ctx, req.DatasetId, req.Module, model.TaskKindVideoProcessing, "", req.Params)
	if err != nil {
		return nil, err
	}
	return &dao.AddTaskVideoProcessingResponse{Response: dao.OK(), TaskId: id}, nil
}

func (s *Server) addTaskProcessingMetadata(ctx context.Context, req *dao.AddTaskProcessingMetadataRequest) (*dao.AddTaskProcessingMetadataResponse, error) {
	id, err := s.addTask(ctx, req.DatasetId, req.Module, model.TaskKindProcessingMetadata, req.PrereqTaskId, req.Params)
	if err != nil {
		return nil, err
	}
	return &dao.AddTaskProcessingMetadataResponse{Response: dao.OK(), TaskId: id}, nil
}

func (s *Server) addTaskEventDetection(ctx context.Context, req *dao.AddTaskEventDetectionRequest) (*dao.AddTaskEventDetectionResponse, error) {
	id, err := s.addTask(ctx, req.DatasetId, req.Module, model.TaskKindEventDetection, req.PrereqTaskId, req.Params)
	if err != nil {
		return nil, err
	}
	return &dao.AddTaskEventDetectionResponse{Response: dao.OK(), TaskId: id}, nil
}

func (s *Server) getTaskIDList(_ context.Context, req *dao.GetTaskIDListRequest) (*dao.GetTaskIDListResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(req.DatasetId)
	if err != nil {
		return nil, err
	}
	resp := &dao.GetTaskIDListResponse{Response: dao.OK()}
	for _, t := range tasks {
		resp.TaskIds = append(resp.TaskIds, t.Id)
	}
	return resp, nil
}

func (s *Server) getTaskInfo(_ context.Context, req *dao.GetTaskInfoRequest) (*dao.GetTaskInfoResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	var tasks []*model.Task
	if len(req.TaskIds) == 0 {
		var err error
		if tasks, err = s.store.ListTasks(req.DatasetId); err != nil {
			return nil, err
		}
	} else {
		for _, id := range req.TaskIds {
			t, err := s.findTask(req.DatasetId, id)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}

	procs, err := s.store.ListProcesses(req.DatasetId)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(procs, func(i, j int) bool { return procs[i].CreateTime.Before(procs[j].CreateTime) })
	processIds := make(map[string][]string)
	for _, p := range procs {
		processIds[p.TaskId] = append(processIds[p.TaskId], p.Id)
	}

	resp := &dao.GetTaskInfoResponse{Response: dao.OK()}
	for _, t := range tasks {
		info, err := dao.FromTaskModel(t, processIds[t.Id])
		if err != nil {
			return nil, err
		}
		resp.Tasks = append(resp.Tasks, *info)
	}
	return resp, nil
}

// getTaskProgress weighs every video by its length: done videos count fully,
// the video a running process is on counts by that process's progress.
func (s *Server) getTaskProgress(_ context.Context, req *dao.GetTaskProgressRequest) (*dao.GetTaskProgressResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	if _, err := s.findTask(req.DatasetId, req.TaskId); err != nil {
		return nil, err
	}
	videos, err := s.resolveVideos(req.DatasetId, req.VideoIds)
	if err != nil {
		return nil, err
	}
	progress, err := s.store.ListProgress(req.DatasetId, req.TaskId)
	if err != nil {
		return nil, err
	}

	tp := &dao.TaskProgress{}
	var total, done float64
	for _, v := range videos {
		length := float64(v.LengthFrames)
		total += length
		prog := progress[v.Id]
		if prog == nil {
			continue
		}
		if prog.Done {
			done += length
			tp.DoneVideoIds = append(tp.DoneVideoIds, v.Id)
			continue
		}
		if prog.ProcessId == "" {
			continue
		}
		e := s.manager.Get(prog.ProcessId)
		if e == nil {
			continue
		}
		tp.InprogressVideoIds = append(tp.InprogressVideoIds, v.Id)
		if p := e.Process(); p.CurrentItem == v.Id {
			done += p.Progress * length
		}
	}
	switch {
	case total > 0:
		tp.Progress = math.Min(done/total, 1)
	case len(videos) > 0 && len(tp.DoneVideoIds) == len(videos):
		tp.Progress = 1
	}
	return &dao.GetTaskProgressResponse{Response: dao.OK(), TaskProgress: tp}, nil
}

// deleteTask stops and removes the task together with every task depending
// on it.
func (s *Server) deleteTask(ctx context.Context, req *dao.DeleteTaskRequest) (*dao.DeleteTaskResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	if _, err := s.findTask(req.DatasetId, req.TaskId); err != nil {
		return nil, err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	closure, err := s.store.TaskClosure(req.DatasetId, req.TaskId)
	if err != nil {
		return nil, err
	}
	s.manager.StopTasks(req.DatasetId, closure)
	deleted, err := s.store.DeleteTask(req.DatasetId, req.TaskId)
	if err != nil {
		return nil, err
	}
	log.GetLogger(ctx).Infof("tasks %v deleted from dataset %s", deleted, req.DatasetId)
	return &dao.DeleteTaskResponse{Response: dao.OK()}, nil
}
