package dao

import (
	"videoterror/internal/model"
)

type VideoInfo struct {
	VideoId      string     `json:"video_id,omitempty"`
	Filepath     string     `json:"filepath,omitempty"`
	Location     string     `json:"location,omitempty"`
	StartTime    *Timestamp `json:"start_time,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	LengthFrames int64      `json:"length_frames,omitempty"`
	Fps          float64    `json:"fps,omitempty"`
	Speed        float64    `json:"speed,omitempty"`
	LengthMs     int64      `json:"length_ms,omitempty"`
	AddedTime    *Timestamp `json:"added_time,omitempty"`
}

func FromVideoModel(v *model.Video) *VideoInfo {
	return &VideoInfo{
		VideoId:      v.Id,
		Filepath:     v.Filepath,
		Location:     v.Location,
		StartTime:    NewTimestamp(v.StartTime),
		Comment:      v.Comment,
		LengthFrames: v.LengthFrames,
		Fps:          v.Fps,
		Speed:        v.Speed,
		LengthMs:     v.LengthMs(),
		AddedTime:    NewTimestamp(v.AddedTime),
	}
}

// AddVideoRequest imports a video file, or a directory of images, into a dataset.
type AddVideoRequest struct {
	DatasetId string     `json:"dataset_id" validate:"required"`
	Filepath  string     `json:"filepath" validate:"required"`
	Name      string     `json:"name,omitempty"`
	Location  string     `json:"location,omitempty"`
	StartTime *Timestamp `json:"start_time,omitempty"`
	Speed     float64    `json:"speed,omitempty" validate:"gte=0"`
	Comment   string     `json:"comment,omitempty"`
}

type AddVideoResponse struct {
	Response
	VideoId string `json:"video_id,omitempty"`
}

type GetVideoIDListRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
}

type GetVideoIDListResponse struct {
	Response
	VideoIds []string `json:"video_ids,omitempty"`
}

type GetVideoInfoRequest struct {
	DatasetId string   `json:"dataset_id" validate:"required"`
	VideoIds  []string `json:"video_ids,omitempty"`
}

type GetVideoInfoResponse struct {
	Response
	Videos []VideoInfo `json:"videos,omitempty"`
}

type SetVideoInfoRequest struct {
	DatasetId string     `json:"dataset_id" validate:"required"`
	VideoId   string     `json:"video_id" validate:"required"`
	StartTime *Timestamp `json:"start_time,omitempty"`
}

type SetVideoInfoResponse struct {
	Response
}

type DeleteVideoRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
	VideoId   string `json:"video_id" validate:"required"`
}

type DeleteVideoResponse struct {
	Response
}
