package server

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"videoterror/internal/dao"
	"videoterror/internal/model"
	"videoterror/pkg/log"
)

// checkPrereqs refuses to run task while any prerequisite up its chain is not
// done for one of the videos.
func (s *Server) checkPrereqs(task *model.Task, videos []*model.Video) error {
	seen := map[string]bool{task.Id: true}
	for cur := task; cur.PrereqTaskId != ""; {
		if seen[cur.PrereqTaskId] {
			return failf("Task %s has a prerequisite cycle", task.Id)
		}
		seen[cur.PrereqTaskId] = true

		prereq, err := s.store.GetTask(task.DatasetId, cur.PrereqTaskId)
		if err != nil {
			return err
		} else if prereq == nil {
			return failf("Cannot find prerequisite task %s", cur.PrereqTaskId)
		}
		progress, err := s.store.ListProgress(task.DatasetId, prereq.Id)
		if err != nil {
			return err
		}
		for _, v := range videos {
			if p := progress[v.Id]; p == nil || !p.Done {
				return failf("Prerequisite task %s is not done for video %s", prereq.Id, v.Id)
			}
		}
		cur = prereq
	}
	return nil
}

func (s *Server) runProcess(ctx context.Context, req *dao.RunProcessRequest) (*dao.RunProcessResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	task, err := s.findTask(req.DatasetId, req.TaskId)
	if err != nil {
		return nil, err
	}
	videos, err := s.resolveVideos(req.DatasetId, req.VideoIds)
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, failf("Dataset %s has no videos to process", req.DatasetId)
	}
	if err := s.checkPrereqs(task, videos); err != nil {
		return nil, err
	}
	videoIds := make([]string, 0, len(videos))
	for _, v := range videos {
		if s.manager.Busy(req.DatasetId, task.Id, v.Id) {
			return nil, failf("Video %s is already being processed by task %s", v.Id, task.Id)
		}
		videoIds = append(videoIds, v.Id)
	}

	now := time.Now()
	proc := &model.Process{
		Id:         uuid.New().String(),
		DatasetId:  req.DatasetId,
		TaskId:     task.Id,
		VideoIds:   videoIds,
		State:      model.ProcessStateCreated,
		CreateTime: now,
		UpdateTime: now,
	}
	if err := s.store.SaveProcess(proc); err != nil {
		return nil, err
	}
	if err := s.manager.Run(task, proc); err != nil {
		return nil, err
	}
	log.GetLogger(ctx).Infof("process %s started for task %s on %d videos", proc.Id, task.Id, len(videoIds))
	return &dao.RunProcessResponse{Response: dao.OK(), ProcessId: proc.Id}, nil
}

func (s *Server) listProcesses(datasetId string) ([]*model.Process, error) {
	procs, err := s.store.ListProcesses(datasetId)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(procs, func(i, j int) bool { return procs[i].CreateTime.Before(procs[j].CreateTime) })
	return procs, nil
}

func (s *Server) getProcessIDList(_ context.Context, req *dao.GetProcessIDListRequest) (*dao.GetProcessIDListResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	procs, err := s.listProcesses(req.DatasetId)
	if err != nil {
		return nil, err
	}
	resp := &dao.GetProcessIDListResponse{Response: dao.OK()}
	for _, p := range procs {
		resp.ProcessIds = append(resp.ProcessIds, p.Id)
	}
	return resp, nil
}

func (s *Server) getProcessInfo(_ context.Context, req *dao.GetProcessInfoRequest) (*dao.GetProcessInfoResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	var procs []*model.Process
	if len(req.ProcessIds) == 0 {
		var err error
		if procs, err = s.listProcesses(req.DatasetId); err != nil {
			return nil, err
		}
	} else {
		for _, id := range req.ProcessIds {
			p, err := s.store.GetProcess(req.DatasetId, id)
			if err != nil {
				return nil, err
			} else if p == nil {
				return nil, failf("Cannot find process %s in dataset %s", id, req.DatasetId)
			}
			procs = append(procs, p)
		}
	}

	resp := &dao.GetProcessInfoResponse{Response: dao.OK()}
	for _, p := range procs {
		resp.Processes = append(resp.Processes, *dao.FromProcessModel(p))
	}
	return resp, nil
}

// stopProcess is a no-op for a process that already ended.
func (s *Server) stopProcess(ctx context.Context, req *dao.StopProcessRequest) (*dao.StopProcessResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	p, err := s.store.GetProcess(req.DatasetId, req.ProcessId)
	if err != nil {
		return nil, err
	} else if p == nil {
		return nil, failf("Cannot find process %s in dataset %s", req.ProcessId, req.DatasetId)
	}
	if s.manager.Stop(p.Id) {
		log.GetLogger(ctx).Infof("process %s stopped", p.Id)
	}
	return &dao.StopProcessResponse{Response: dao.OK()}, nil
}
