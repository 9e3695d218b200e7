package model

import (
	"encoding/json"
	"time"
)

type TaskKind string

const (
	TaskKindUnknown            TaskKind = "TASK_TYPE_UNKNOWN"
	TaskKindVideoProcessing    TaskKind = "VIDEO_PROCESSING"
	TaskKindProcessingMetadata TaskKind = "PROCESSING_METADATA"
	TaskKindEventDetection     TaskKind = "EVENT_DETECTION"
)

func (k TaskKind) Suffix() string {
	switch k {
	case TaskKindVideoProcessing:
		return "vp"
	case TaskKindProcessingMetadata:
		return "pm"
	case TaskKindEventDetection:
		return "ed"
	default:
		return "unknown"
	}
}

type Task struct {
	Id           string          `json:"id"`
	DatasetId    string          `json:"dataset_id"`
	Module       string          `json:"module"`
	Kind         TaskKind        `json:"kind"`
	Params       json.RawMessage `json:"params,omitempty"`
	PrereqTaskId string          `json:"prereq_task_id,omitempty"`
	AddedTime    time.Time       `json:"added_time"`
}

type ProcessState string

const (
	ProcessStateCreated  ProcessState = "CREATED"
	ProcessStateRunning  ProcessState = "RUNNING"
	ProcessStateFinished ProcessState = "FINISHED"
	ProcessStateFailed   ProcessState = "FAILED"
	ProcessStateStopped  ProcessState = "STOPPED"
)

func (s ProcessState) Terminal() bool {
	return s == ProcessStateFinished || s == ProcessStateFailed || s == ProcessStateStopped
}

type Process struct {
	Id           string       `json:"id"`
	DatasetId    string       `json:"dataset_id"`
	TaskId       string       `json:"task_id"`
	VideoIds     []string     `json:"video_ids"`
	State        ProcessState `json:"state"`
	CurrentItem  string       `json:"current_item,omitempty"`
	Progress     float64      `json:"progress"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreateTime   time.Time    `json:"create_time"`
	UpdateTime   time.Time    `json:"update_time"`
}

// VideoProgress is the state of one (task, video) pair.
type VideoProgress struct {
	DatasetId string `json:"dataset_id"`
	TaskId    string `json:"task_id"`
	VideoId   string `json:"video_id"`
	Done      bool   `json:"done"`
	ProcessId string `json:"process_id,omitempty"`
	Keyframes int64  `json:"keyframes,omitempty"`
}
