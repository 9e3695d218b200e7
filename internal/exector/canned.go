package exector

import (
	"context"
	"math"

	"videoterror/internal/dao"
	"videoterror/internal/model"
)

const (
	defaultKeyframeFreq = 25
	cannedGroupId       = 123
	sceneSeconds        = 10
)

type cannedEvent struct {
	t1, t2         float64
	score          float64
	x1, y1, x2, y2 float64
}

var cannedEvents = []cannedEvent{
	{t1: 10, t2: 20, score: 0.8, x1: 0.1, y1: 0.1, x2: 0.3, y2: 0.3},
	{t1: 25, t2: 35, score: 0.9, x1: 0.4, y1: 0.4, x2: 0.6, y2: 0.6},
	{t1: 40, t2: 50, score: 0.85, x1: 0.6, y1: 0.6, x2: 0.9, y2: 0.9},
}

// CannedAnalyzer stands in for the analysis modules. It derives keyframes
// from the video length, metadata from the prerequisite keyframes, and a fixed
// set of events.
type CannedAnalyzer struct {
	store *model.Store
}

func NewCannedAnalyzer(store *model.Store) *CannedAnalyzer {
	return &CannedAnalyzer{store: store}
}

func (a *CannedAnalyzer) Analyze(ctx context.Context, task *model.Task, video *model.Video) (*Output, error) {
	params, err := dao.DecodeParams(task.Params)
	if err != nil {
		return nil, err
	}

	switch task.Kind {
	case model.TaskKindVideoProcessing:
		freq := int64(defaultKeyframeFreq)
		if v, ok := dao.IntValue(params, "keyframe_freq"); ok && v > 0 {
			freq = int64(v)
		}
		return &Output{Keyframes: video.LengthFrames / freq}, nil

	case model.TaskKindProcessingMetadata:
		keyframes := video.LengthFrames / defaultKeyframeFreq
		prereq, err := a.store.GetProgress(task.DatasetId, task.PrereqTaskId, video.Id)
		if err != nil {
			return nil, err
		} else if prereq != nil && prereq.Done {
			keyframes = prereq.Keyframes
		}
		occurrence := map[int32]int64{0: keyframes}
		if video.Fps > 0 {
			if scenes := int64(float64(video.LengthFrames) / video.Fps / sceneSeconds); scenes > 0 {
				occurrence[1] = scenes
			}
		}
		return &Output{
			Metadata: &model.VideoMetadata{
				DatasetId:       task.DatasetId,
				TaskId:          task.Id,
				VideoId:         video.Id,
				ClassOccurrence: occurrence,
			},
		}, nil

	case model.TaskKindEventDetection:
		minScore, _ := dao.FloatValue(params, "min_score")
		return &Output{
			Events: &model.VideoEvents{
				DatasetId: task.DatasetId,
				TaskId:    task.Id,
				VideoId:   video.Id,
				Events:    cannedVideoEvents(video, minScore),
			},
		}, nil
	}
	return &Output{}, nil
}

func cannedVideoEvents(video *model.Video, minScore float64) []model.Event {
	if video.Fps <= 0 {
		return nil
	}
	lengthSec := float64(video.LengthFrames) / video.Fps
	var events []model.Event
	for _, c := range cannedEvents {
		if c.t1 >= lengthSec || c.score < minScore {
			continue
		}
		t2 := math.Min(c.t2, lengthSec)
		t1Frame := int64(math.Round(c.t1 * video.Fps))
		events = append(events, model.Event{
			GroupId: cannedGroupId,
			ClassId: 0,
			Score:   c.score,
			T1:      t1Frame,
			T2:      int64(math.Round(t2 * video.Fps)),
			T1Sec:   c.t1,
			T2Sec:   t2,
			Regions: []model.Region{{
				T: t1Frame, TSec: c.t1,
				X1: c.x1, Y1: c.y1, X2: c.x2, Y2: c.y2,
			}},
		})
	}
	return events
}
