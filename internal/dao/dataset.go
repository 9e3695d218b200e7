package dao

import (
	"videoterror/internal/model"
)

type DatasetInfo struct {
	DatasetId    string `json:"dataset_id,omitempty"`
	Name         string `json:"name,omitempty"`
	FriendlyName string `json:"friendly_name,omitempty"`
	Description  string `json:"description,omitempty"`
}

func FromDatasetModel(ds *model.Dataset) *DatasetInfo {
	return &DatasetInfo{
		DatasetId:    ds.Id,
		Name:         ds.Name,
		FriendlyName: ds.FriendlyName,
		Description:  ds.Description,
	}
}

type DatasetMetrics struct {
	DatasetId    string `json:"dataset_id,omitempty"`
	VideoCount   int64  `json:"video_count,omitempty"`
	TaskCount    int64  `json:"task_count,omitempty"`
	ProcessCount int64  `json:"process_count,omitempty"`
}

type AddDatasetRequest struct {
	Name         string `json:"name" validate:"required"`
	FriendlyName string `json:"friendly_name,omitempty"`
	Description  string `json:"description,omitempty"`
}

type AddDatasetResponse struct {
	Response
	DatasetId string `json:"dataset_id,omitempty"`
}

type GetDatasetListRequest struct{}

type GetDatasetListResponse struct {
	Response
	Datasets []DatasetInfo `json:"datasets,omitempty"`
}

type GetDatasetMetricsRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
}

type GetDatasetMetricsResponse struct {
	Response
	Metrics *DatasetMetrics `json:"metrics,omitempty"`
}

type DeleteDatasetRequest struct {
	DatasetId string `json:"dataset_id" validate:"required"`
}

type DeleteDatasetResponse struct {
	Response
}
