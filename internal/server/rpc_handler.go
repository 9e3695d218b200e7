package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"videoterror/internal/dao"
	"videoterror/internal/rpc"
	"videoterror/pkg/log"
)

// failure is a request the server understood but refused. It is answered
// with success=false instead of an HTTP error.
type failure struct {
	msg string
}

func (f *failure) Error() string {
	return f.msg
}

func failf(format string, args ...any) error {
	return &failure{msg: fmt.Sprintf(format, args...)}
}

type handler func(ctx context.Context, req any) (dao.Reply, error)

func bind[Req any, Resp any](op *rpc.Op[Req, Resp], fn func(ctx context.Context, req *Req) (*Resp, error)) handler {
	return func(ctx context.Context, req any) (dao.Reply, error) {
		resp, err := fn(ctx, req.(*Req))
		var fail *failure
		if errors.As(err, &fail) {
			reply := op.NewResponse()
			reply.SetResult(&dao.RequestResult{Success: false, Error: fail.msg})
			return reply, nil
		} else if err != nil {
			return nil, err
		}
		return any(resp).(dao.Reply), nil
	}
}

func (s *Server) operationHandlers() map[string]handler {
	return map[string]handler{
		rpc.AddDataset.Name():        bind(rpc.AddDataset, s.addDataset),
		rpc.GetDatasetList.Name():    bind(rpc.GetDatasetList, s.getDatasetList),
		rpc.GetDatasetMetrics.Name(): bind(rpc.GetDatasetMetrics, s.getDatasetMetrics),
		rpc.DeleteDataset.Name():     bind(rpc.DeleteDataset, s.deleteDataset),

		rpc.AddVideo.Name():       bind(rpc.AddVideo, s.addVideo),
		rpc.GetVideoIDList.Name(): bind(rpc.GetVideoIDList, s.getVideoIDList),
		rpc.GetVideoInfo.Name():   bind(rpc.GetVideoInfo, s.getVideoInfo),
		rpc.SetVideoInfo.Name():   bind(rpc.SetVideoInfo, s.setVideoInfo),
		rpc.DeleteVideo.Name():    bind(rpc.DeleteVideo, s.deleteVideo),

		rpc.AddTaskVideoProcessing.Name():    bind(rpc.AddTaskVideoProcessing, s.addTaskVideoProcessing),
		rpc.AddTaskProcessingMetadata.Name(): bind(rpc.AddTaskProcessingMetadata, s.addTaskProcessingMetadata),
		rpc.AddTaskEventDetection.Name():     bind(rpc.AddTaskEventDetection, s.addTaskEventDetection),
		rpc.GetTaskIDList.Name():             bind(rpc.GetTaskIDList, s.getTaskIDList),
		rpc.GetTaskInfo.Name():               bind(rpc.GetTaskInfo, s.getTaskInfo),
		rpc.GetTaskProgress.Name():           bind(rpc.GetTaskProgress, s.getTaskProgress),
		rpc.DeleteTask.Name():                bind(rpc.DeleteTask, s.deleteTask),

		rpc.RunProcess.Name():       bind(rpc.RunProcess, s.runProcess),
		rpc.GetProcessIDList.Name(): bind(rpc.GetProcessIDList, s.getProcessIDList),
		rpc.GetProcessInfo.Name():   bind(rpc.GetProcessInfo, s.getProcessInfo),
		rpc.StopProcess.Name():      bind(rpc.StopProcess, s.stopProcess),

		rpc.GetEventList.Name():          bind(rpc.GetEventList, s.getEventList),
		rpc.GetEventsStats.Name():        bind(rpc.GetEventsStats, s.getEventsStats),
		rpc.GetProcessingMetadata.Name(): bind(rpc.GetProcessingMetadata, s.getProcessingMetadata),
	}
}

// handleRPC serves POST /rpc/:operation. The body is the request mapping and
// the reply is the response mapping.
func (s *Server) handleRPC(c *gin.Context) {
	name := c.Param("operation")
	op, err := rpc.Lookup(name)
	if err != nil {
		s.writeError(c, http.StatusNotFound, err)
		return
	}
	h, ok := s.handlers[name]
	if !ok {
		s.writeError(c, http.StatusNotFound, &rpc.UnknownServiceError{Name: name})
		return
	}

	var props map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	req, err := rpc.Encode(op, props)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	start := time.Now()
	reply, err := h(ctx, req)
	if err != nil {
		log.GetLogger(ctx).WithError(err).Errorf("%s failed", name)
		s.metrics.observe(name, false, time.Since(start))
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	res := reply.Result()
	s.metrics.observe(name, res.Success, time.Since(start))
	if !res.Success {
		log.GetLogger(ctx).Infof("%s refused: %s", name, res.Error)
	}

	out, err := rpc.Decode(reply)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
