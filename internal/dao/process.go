package dao

import (
	"videoterror/internal/model"
)

type ProcessInfo struct {
	ProcessId        string             `json:"process_id,omitempty"`
	AssignedTaskId   string             `json:"assigned_task_id,omitempty"`
	AssignedVideoIds []string           `json:"assigned_video_ids,omitempty"`
	State            model.ProcessState `json:"state,omitempty"`
	CurrentItem      string             `json:"current_item,omitempty"`
	Progress         float64            `json:"progress"`
	ErrorMessage     string             `json:"error_message,omitempty"`
}

func FromProcessModel(p *model.Process) *ProcessInfo {
	return &ProcessInfo{
		ProcessId:        p.Id,
		AssignedTaskId:   p.TaskId,
		AssignedVideoIds: p.VideoIds,
		State:            p.State,
		CurrentItem:      p.CurrentItem,
		Progress:         p.Progress,
		ErrorMessage:     p.ErrorMessage,
	}
}

type RunProcessRequest struct {
	DatasetId string   `json:"dataset_id" validate:"required"`
	TaskId    string   `json:"task_id" validate:"required"`
	VideoIds  []string `json:"video_ids,omitempty"`
}

type RunProcessResponse struct {
	Response
	ProcessId string `json:"process_id,omitempty"`
}

type GetProcessIDListRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
}

type GetProcessIDListResponse struct {
	Response
	ProcessIds []string `json:"process_ids,omitempty"`
}

type GetProcessInfoRequest struct {
	DatasetId  string   `json:"dataset_id" validate:"required"`
	ProcessIds []string `json:"process_ids,omitempty"`
}

type GetProcessInfoResponse struct {
	Response
	Processes []ProcessInfo `json:"processes,omitempty"`
}

type StopProcessRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
	ProcessId string `json:"process_id" validate:"required"`
}

type StopProcessResponse struct {
	Response
}
