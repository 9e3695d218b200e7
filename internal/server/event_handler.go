package server

import (
	"context"
	"sort"

	"videoterror/internal/dao"
	"videoterror/internal/model"
)

// resultTask finds a task whose outputs are of the given kind.
func (s *Server) resultTask(datasetId, taskId string, kind model.TaskKind) (*model.Task, error) {
	if _, err := s.findDataset(datasetId); err != nil {
		return nil, err
	}
	t, err := s.findTask(datasetId, taskId)
	if err != nil {
		return nil, err
	}
	if t.Kind != kind {
		return nil, failf("Task %s is of type %s, not %s", taskId, t.Kind, kind)
	}
	return t, nil
}

type videoEvents struct {
	video  *model.Video
	events []model.Event
}

// filteredEvents returns the matching events of every video that has results.
func (s *Server) filteredEvents(datasetId, taskId string, videoIds []string, filter *dao.EventFilter) ([]videoEvents, error) {
	if _, err := s.resultTask(datasetId, taskId, model.TaskKindEventDetection); err != nil {
		return nil, err
	}
	videos, err := s.resolveVideos(datasetId, videoIds)
	if err != nil {
		return nil, err
	}
	var result []videoEvents
	for _, v := range videos {
		stored, err := s.store.GetEvents(datasetId, taskId, v.Id)
		if err != nil {
			return nil, err
		} else if stored == nil {
			continue
		}
		ve := videoEvents{video: v}
		for i := range stored.Events {
			if filter.Match(&stored.Events[i], v.StartTime) {
				ve.events = append(ve.events, stored.Events[i])
			}
		}
		result = append(result, ve)
	}
	return result, nil
}

func (s *Server) getEventList(_ context.Context, req *dao.GetEventListRequest) (*dao.GetEventListResponse, error) {
	all, err := s.filteredEvents(req.DatasetId, req.TaskId, req.VideoIds, req.Filter)
	if err != nil {
		return nil, err
	}
	resp := &dao.GetEventListResponse{Response: dao.OK()}
	for _, ve := range all {
		list := dao.EventInfoList{VideoId: ve.video.Id}
		for i := range ve.events {
			list.Events = append(list.Events, dao.FromEventModel(&ve.events[i]))
		}
		resp.EventsList = append(resp.EventsList, list)
	}
	return resp, nil
}

func (s *Server) getEventsStats(_ context.Context, req *dao.GetEventsStatsRequest) (*dao.GetEventsStatsResponse, error) {
	all, err := s.filteredEvents(req.DatasetId, req.TaskId, req.VideoIds, req.Filter)
	if err != nil {
		return nil, err
	}
	resp := &dao.GetEventsStatsResponse{Response: dao.OK()}
	for _, ve := range all {
		resp.Stats = append(resp.Stats, dao.EventStats{
			VideoId:  ve.video.Id,
			Count:    int64(len(ve.events)),
			Coverage: coverage(ve.events, ve.video.LengthFrames),
		})
	}
	return resp, nil
}

// coverage is the fraction of frames inside at least one event.
func coverage(events []model.Event, lengthFrames int64) float64 {
	if lengthFrames <= 0 || len(events) == 0 {
		return 0
	}
	spans := make([][2]int64, 0, len(events))
	for _, e := range events {
		t1, t2 := max(e.T1, 0), min(e.T2, lengthFrames)
		if t2 > t1 {
			spans = append(spans, [2]int64{t1, t2})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })

	var covered, end int64
	for _, sp := range spans {
		if sp[0] > end {
			end = sp[0]
		}
		if sp[1] > end {
			covered += sp[1] - end
			end = sp[1]
		}
	}
	return float64(covered) / float64(lengthFrames)
}

// getProcessingMetadata sums the class occurrences over the requested videos.
func (s *Server) getProcessingMetadata(_ context.Context, req *dao.GetProcessingMetadataRequest) (*dao.GetProcessingMetadataResponse, error) {
	if _, err := s.resultTask(req.DatasetId, req.TaskId, model.TaskKindProcessingMetadata); err != nil {
		return nil, err
	}
	videos, err := s.resolveVideos(req.DatasetId, req.VideoIds)
	if err != nil {
		return nil, err
	}
	occurrence := make(map[int32]int64)
	for _, v := range videos {
		meta, err := s.store.GetMetadata(req.DatasetId, req.TaskId, v.Id)
		if err != nil {
			return nil, err
		} else if meta == nil {
			continue
		}
		for class, n := range meta.ClassOccurrence {
			occurrence[class] += n
		}
	}

	classes := make([]int32, 0, len(occurrence))
	for class := range occurrence {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	md := &dao.MetadataVideotype{}
	for _, class := range classes {
		md.ClassIdOccurence = append(md.ClassIdOccurence, dao.ClassIdOccurence{
			ClassId:    class,
			Occurrence: occurrence[class],
		})
	}
	return &dao.GetProcessingMetadataResponse{Response: dao.OK(), MetadataVideotype: md}, nil
}
