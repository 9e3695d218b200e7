package model

import (
	"time"
)

type Dataset struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	FriendlyName string    `json:"friendly_name"`
	Description  string    `json:"description"`
	CreateTime   time.Time `json:"create_time"`
}

type DatasetMetrics struct {
	DatasetId    string
	VideoCount   int64
	TaskCount    int64
	ProcessCount int64
}

type Video struct {
	Id           string    `json:"id"`
	DatasetId    string    `json:"dataset_id"`
	Filepath     string    `json:"filepath"`
	Location     string    `json:"location"`
	Comment      string    `json:"comment"`
	StartTime    time.Time `json:"start_time"`
	LengthFrames int64     `json:"length_frames"`
	Fps          float64   `json:"fps"`
	Speed        float64   `json:"speed"`
	AddedTime    time.Time `json:"added_time"`
	// Source is the path the video was imported from.
	Source string `json:"source"`
}

func (v *Video) LengthMs() int64 {
	if v.Fps <= 0 {
		return 0
	}
	return int64(float64(v.LengthFrames) / v.Fps * 1000)
}
