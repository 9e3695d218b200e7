package dao

import (
	"time"

	"videoterror/internal/model"
)

type EventRegion struct {
	T    int64   `json:"t,omitempty"`
	TSec float64 `json:"t_sec,omitempty"`
	X1   float64 `json:"x1,omitempty"`
	Y1   float64 `json:"y1,omitempty"`
	X2   float64 `json:"x2,omitempty"`
	Y2   float64 `json:"y2,omitempty"`
}

type EventInfo struct {
	GroupId int32         `json:"group_id,omitempty"`
	ClassId int32         `json:"class_id,omitempty"`
	Score   float64       `json:"score,omitempty" validate:"gte=0,lte=1"`
	T1      int64         `json:"t1,omitempty"`
	T2      int64         `json:"t2,omitempty"`
	T1Sec   float64       `json:"t1_sec,omitempty"`
	T2Sec   float64       `json:"t2_sec,omitempty"`
	Regions []EventRegion `json:"regions,omitempty"`
}

func FromEventModel(e *model.Event) EventInfo {
	info := EventInfo{
		GroupId: e.GroupId,
		ClassId: e.ClassId,
		Score:   e.Score,
		T1:      e.T1,
		T2:      e.T2,
		T1Sec:   e.T1Sec,
		T2Sec:   e.T2Sec,
	}
	for _, r := range e.Regions {
		info.Regions = append(info.Regions, EventRegion{
			T: r.T, TSec: r.TSec, X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2,
		})
	}
	return info
}

type EventInfoList struct {
	VideoId string      `json:"video_id,omitempty"`
	Events  []EventInfo `json:"events,omitempty"`
}

type Rect struct {
	X1 float64 `json:"x1,omitempty"`
	Y1 float64 `json:"y1,omitempty"`
	X2 float64 `json:"x2,omitempty"`
	Y2 float64 `json:"y2,omitempty"`
}

func (r *Rect) Intersects(x1, y1, x2, y2 float64) bool {
	return r.X1 <= x2 && x1 <= r.X2 && r.Y1 <= y2 && y1 <= r.Y2
}

// EventFilter selects events. Zero fields do not filter. Time and day windows
// need the video start time and drop every event of a video without one.
type EventFilter struct {
	MinDuration     float64    `json:"min_duration,omitempty" validate:"gte=0"`
	MaxDuration     float64    `json:"max_duration,omitempty" validate:"gte=0"`
	BeginTimewindow *Timestamp `json:"begin_timewindow,omitempty"`
	EndTimewindow   *Timestamp `json:"end_timewindow,omitempty"`
	// seconds since midnight UTC, a window may wrap around midnight
	BeginDaywindow int64 `json:"begin_daywindow,omitempty" validate:"gte=0,lt=86400"`
	EndDaywindow   int64 `json:"end_daywindow,omitempty" validate:"gte=0,lt=86400"`
	Region         *Rect `json:"region,omitempty"`
}

func (f *EventFilter) Match(e *model.Event, videoStart time.Time) bool {
	if f == nil {
		return true
	}
	if f.MinDuration > 0 && e.Duration() < f.MinDuration {
		return false
	}
	if f.MaxDuration > 0 && e.Duration() > f.MaxDuration {
		return false
	}

	if f.BeginTimewindow != nil || f.EndTimewindow != nil || f.BeginDaywindow != 0 || f.EndDaywindow != 0 {
		if videoStart.IsZero() {
			return false
		}
		begin := videoStart.Add(time.Duration(e.T1Sec * float64(time.Second)))
		end := videoStart.Add(time.Duration(e.T2Sec * float64(time.Second)))
		if f.BeginTimewindow != nil && end.Before(f.BeginTimewindow.Time()) {
			return false
		}
		if f.EndTimewindow != nil && begin.After(f.EndTimewindow.Time()) {
			return false
		}
		if f.BeginDaywindow != 0 || f.EndDaywindow != 0 {
			begin = begin.UTC()
			sec := int64(begin.Hour()*3600 + begin.Minute()*60 + begin.Second())
			if f.BeginDaywindow <= f.EndDaywindow {
				if sec < f.BeginDaywindow || sec > f.EndDaywindow {
					return false
				}
			} else if sec < f.BeginDaywindow && sec > f.EndDaywindow {
				return false
			}
		}
	}

	if f.Region != nil {
		hit := false
		for _, r := range e.Regions {
			if f.Region.Intersects(r.X1, r.Y1, r.X2, r.Y2) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

type EventStats struct {
	VideoId  string  `json:"video_id,omitempty"`
	Count    int64   `json:"count"`
	Coverage float64 `json:"coverage"`
}

type GetEventListRequest struct {
	DatasetId string       `json:"dataset_id" validate:"required"`
	TaskId    string       `json:"task_id" validate:"required"`
	VideoIds  []string     `json:"video_ids,omitempty"`
	Filter    *EventFilter `json:"filter,omitempty"`
}

type GetEventListResponse struct {
	Response
	EventsList []EventInfoList `json:"events_list,omitempty"`
}

type GetEventsStatsRequest struct {
	DatasetId string       `json:"dataset_id" validate:"required"`
	TaskId    string       `json:"task_id" validate:"required"`
	VideoIds  []string     `json:"video_ids,omitempty"`
	Filter    *EventFilter `json:"filter,omitempty"`
}

type GetEventsStatsResponse struct {
	Response
	Stats []EventStats `json:"stats,omitempty"`
}

type ClassIdOccurence struct {
	ClassId    int32 `json:"class_id,omitempty"`
	Occurrence int64 `json:"occurrence,omitempty"`
}

type MetadataVideotype struct {
	ClassIdOccurence []ClassIdOccurence `json:"class_id_occurence,omitempty"`
}

type GetProcessingMetadataRequest struct {
	DatasetId string   `json:"dataset_id" validate:"required"`
	TaskId    string   `json:"task_id" validate:"required"`
	VideoIds  []string `json:"video_ids,omitempty"`
}

type GetProcessingMetadataResponse struct {
	Response
	MetadataVideotype *MetadataVideotype `json:"metadata_videotype,omitempty"`
}
