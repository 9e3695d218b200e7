package dao

import (
	"encoding/json"
	"fmt"

	"videoterror/internal/model"
)

type TaskInfo struct {
	TaskId       string         `json:"task_id,omitempty"`
	Module       string         `json:"module,omitempty"`
	TaskType     model.TaskKind `json:"task_type,omitempty"`
	Params       []TaskParam    `json:"params,omitempty"`
	PrereqTaskId string         `json:"prereq_task_id,omitempty"`
	ProcessIds   []string       `json:"process_ids,omitempty"`
	AddedTime    *Timestamp     `json:"added_time,omitempty"`
}

func EncodeParams(params []TaskParam) (json.RawMessage, error) {
	if len(params) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

func DecodeParams(raw json.RawMessage) ([]TaskParam, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var params []TaskParam
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return params, nil
}

func FromTaskModel(t *model.Task, processIds []string) (*TaskInfo, error) {
	params, err := DecodeParams(t.Params)
	if err != nil {
		return nil, err
	}
	return &TaskInfo{
		TaskId:       t.Id,
		Module:       t.Module,
		TaskType:     t.Kind,
		Params:       params,
		PrereqTaskId: t.PrereqTaskId,
		ProcessIds:   processIds,
		AddedTime:    NewTimestamp(t.AddedTime),
	}, nil
}

type TaskProgress struct {
	Progress           float64  `json:"progress"`
	DoneVideoIds       []string `json:"done_video_ids,omitempty"`
	InprogressVideoIds []string `json:"inprogress_video_ids,omitempty"`
}

type AddTaskVideoProcessingRequest struct {
	DatasetId string      `json:"dataset_id" validate:"required"`
	Module    string      `json:"module" validate:"required"`
	Params    []TaskParam `json:"params,omitempty" validate:"dive"`
}

type AddTaskVideoProcessingResponse struct {
	Response
	TaskId string `json:"task_id,omitempty"`
}

type AddTaskProcessingMetadataRequest struct {
	DatasetId    string      `json:"dataset_id" validate:"required"`
	Module       string      `json:"module" validate:"required"`
	PrereqTaskId string      `json:"prereq_task_id" validate:"required"`
	Params       []TaskParam `json:"params,omitempty" validate:"dive"`
}

type AddTaskProcessingMetadataResponse struct {
	Response
	TaskId string `json:"task_id,omitempty"`
}

type AddTaskEventDetectionRequest struct {
	DatasetId    string      `json:"dataset_id" validate:"required"`
	Module       string      `json:"module" validate:"required"`
	PrereqTaskId string      `json:"prereq_task_id" validate:"required"`
	Params       []TaskParam `json:"params,omitempty" validate:"dive"`
}

type AddTaskEventDetectionResponse struct {
	Response
	TaskId string `json:"task_id,omitempty"`
}

type GetTaskIDListRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
}

type GetTaskIDListResponse struct {
	Response
	TaskIds []string `json:"task_ids,omitempty"`
}

type GetTaskInfoRequest struct {
	DatasetId string   `json:"dataset_id" validate:"required"`
	TaskIds   []string `json:"task_ids,omitempty"`
}

type GetTaskInfoResponse struct {
	Response
	Tasks []TaskInfo `json:"tasks,omitempty"`
}

type GetTaskProgressRequest struct {
	DatasetId string   `json:"dataset_id" validate:"required"`
	TaskId    string   `json:"task_id" validate:"required"`
	VideoIds  []string `json:"video_ids,omitempty"`
}

type GetTaskProgressResponse struct {
	Response
	TaskProgress *TaskProgress `json:"task_progress,omitempty"`
}

type DeleteTaskRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
	TaskId    string `json:"task_id" validate:"required"`
}

type DeleteTaskResponse struct {
	Response
}
