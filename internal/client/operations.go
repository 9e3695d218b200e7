package client

import (
	"context"

	"videoterror/internal/dao"
	"videoterror/internal/rpc"
)

// invoke validates req, sends it and returns the typed response. A nil req
// sends the empty request.
func invoke[Req any, Resp any](ctx context.Context, c *Client, op *rpc.Op[Req, Resp], req *Req, opts ...CallOption) (*Resp, error) {
	if req == nil {
		req = new(Req)
	}
	if err := rpc.Validate(req); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := c.send(ctx, op, req, any(resp).(dao.Reply), opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) AddDataset(ctx context.Context, req *dao.AddDatasetRequest, opts ...CallOption) (*dao.AddDatasetResponse, error) {
	return invoke(ctx, c, rpc.AddDataset, req, opts...)
}

func (c *Client) GetDatasetList(ctx context.Context, req *dao.GetDatasetListRequest, opts ...CallOption) (*dao.GetDatasetListResponse, error) {
	return invoke(ctx, c, rpc.GetDatasetList, req, opts...)
}

func (c *Client) GetDatasetMetrics(ctx context.Context, req *dao.GetDatasetMetricsRequest, opts ...CallOption) (*dao.GetDatasetMetricsResponse, error) {
	return invoke(ctx, c, rpc.GetDatasetMetrics, req, opts...)
}

func (c *Client) DeleteDataset(ctx context.Context, req *dao.DeleteDatasetRequest, opts ...CallOption) (*dao.DeleteDatasetResponse, error) {
	return invoke(ctx, c, rpc.DeleteDataset, req, opts...)
}

func (c *Client) AddVideo(ctx context.Context, req *dao.AddVideoRequest, opts ...CallOption) (*dao.AddVideoResponse, error) {
	return invoke(ctx, c, rpc.AddVideo, req, opts...)
}

func (c *Client) GetVideoIDList(ctx context.Context, req *dao.GetVideoIDListRequest, opts ...CallOption) (*dao.GetVideoIDListResponse, error) {
	return invoke(ctx, c, rpc.GetVideoIDList, req, opts...)
}

func (c *Client) GetVideoInfo(ctx context.Context, req *dao.GetVideoInfoRequest, opts ...CallOption) (*dao.GetVideoInfoResponse, error) {
	return invoke(ctx, c, rpc.GetVideoInfo, req, opts...)
}

func (c *Client) SetVideoInfo(ctx context.Context, req *dao.SetVideoInfoRequest, opts ...CallOption) (*dao.SetVideoInfoResponse, error) {
	return invoke(ctx, c, rpc.SetVideoInfo, req, opts...)
}

func (c *Client) DeleteVideo(ctx context.Context, req *dao.DeleteVideoRequest, opts ...CallOption) (*dao.DeleteVideoResponse, error) {
	return invoke(ctx, c, rpc.DeleteVideo, req, opts...)
}

func (c *Client) AddTaskVideoProcessing(ctx context.Context, req *dao.AddTaskVideoProcessingRequest, opts ...CallOption) (*dao.AddTaskVideoProcessingResponse, error) {
	return invoke(ctx, c, rpc.AddTaskVideoProcessing, req, opts...)
}

func (c *Client) AddTaskProcessingMetadata(ctx context.Context, req *dao.AddTaskProcessingMetadataRequest, opts ...CallOption) (*dao.AddTaskProcessingMetadataResponse, error) {
	return invoke(ctx, c, rpc.AddTaskProcessingMetadata, req, opts...)
}

func (c *Client) AddTaskEventDetection(ctx context.Context, req *dao.AddTaskEventDetectionRequest, opts ...CallOption) (*dao.AddTaskEventDetectionResponse, error) {
	return invoke(ctx, c, rpc.AddTaskEventDetection, req, opts...)
}

func (c *Client) GetTaskIDList(ctx context.Context, req *dao.GetTaskIDListRequest, opts ...CallOption) (*dao.GetTaskIDListResponse, error) {
	return invoke(ctx, c, rpc.GetTaskIDList, req, opts...)
}

func (c *Client) GetTaskInfo(ctx context.Context, req *dao.GetTaskInfoRequest, opts ...CallOption) (*dao.GetTaskInfoResponse, error) {
	return invoke(ctx, c, rpc.GetTaskInfo, req, opts...)
}

func (c *Client) GetTaskProgress(ctx context.Context, req *dao.GetTaskProgressRequest, opts ...CallOption) (*dao.GetTaskProgressResponse, error) {
	return invoke(ctx, c, rpc.GetTaskProgress, req, opts...)
}

func (c *Client) DeleteTask(ctx context.Context, req *dao.DeleteTaskRequest, opts ...CallOption) (*dao.DeleteTaskResponse, error) {
	return invoke(ctx, c, rpc.DeleteTask, req, opts...)
}

func (c *Client) RunProcess(ctx context.Context, req *dao.RunProcessRequest, opts ...CallOption) (*dao.RunProcessResponse, error) {
	return invoke(ctx, c, rpc.RunProcess, req, opts...)
}

func (c *Client) GetProcessIDList(ctx context.Context, req *dao.GetProcessIDListRequest, opts ...CallOption) (*dao.GetProcessIDListResponse, error) {
	return invoke(ctx, c, rpc.GetProcessIDList, req, opts...)
}

func (c *Client) GetProcessInfo(ctx context.Context, req *dao.GetProcessInfoRequest, opts ...CallOption) (*dao.GetProcessInfoResponse, error) {
	return invoke(ctx, c, rpc.GetProcessInfo, req, opts...)
}

func (c *Client) StopProcess(ctx context.Context, req *dao.StopProcessRequest, opts ...CallOption) (*dao.StopProcessResponse, error) {
	return invoke(ctx, c, rpc.StopProcess, req, opts...)
}

func (c *Client) GetEventList(ctx context.Context, req *dao.GetEventListRequest, opts ...CallOption) (*dao.GetEventListResponse, error) {
	return invoke(ctx, c, rpc.GetEventList, req, opts...)
}

func (c *Client) GetEventsStats(ctx context.Context, req *dao.GetEventsStatsRequest, opts ...CallOption) (*dao.GetEventsStatsResponse, error) {
	return invoke(ctx, c, rpc.GetEventsStats, req, opts...)
}

func (c *Client) GetProcessingMetadata(ctx context.Context, req *dao.GetProcessingMetadataRequest, opts ...CallOption) (*dao.GetProcessingMetadataResponse, error) {
	return invoke(ctx, c, rpc.GetProcessingMetadata, req, opts...)
}
