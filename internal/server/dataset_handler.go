package server

import (
	"context"
	"errors"
	"regexp"
	"time"

	"videoterror/internal/dao"
	"videoterror/internal/model"
	"videoterror/pkg/log"
)

func (s *Server) findDataset(datasetId string) (*model.Dataset, error) {
	ds, err := s.store.GetDataset(datasetId)
	if err != nil {
		return nil, err
	} else if ds == nil {
		return nil, failf("Cannot find dataset %s", datasetId)
	}
	return ds, nil
}

// datasetName keeps dataset ids usable as a single path element.
var datasetName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// addDataset uses the dataset name as its id.
func (s *Server) addDataset(ctx context.Context, req *dao.AddDatasetRequest) (*dao.AddDatasetResponse, error) {
	if !datasetName.MatchString(req.Name) {
		return nil, failf("Dataset name %q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", req.Name)
	}
	ds := &model.Dataset{
		Id:           req.Name,
		Name:         req.Name,
		FriendlyName: req.FriendlyName,
		Description:  req.Description,
		CreateTime:   time.Now(),
	}
	if err := s.store.AddDataset(ds); errors.Is(err, model.ErrExists) {
		return nil, failf("Dataset %s already exists", req.Name)
	} else if err != nil {
		return nil, err
	}
	log.GetLogger(ctx).Infof("dataset %s added", ds.Id)
	return &dao.AddDatasetResponse{Response: dao.OK(), DatasetId: ds.Id}, nil
}

func (s *Server) getDatasetList(_ context.Context, _ *dao.GetDatasetListRequest) (*dao.GetDatasetListResponse, error) {
	datasets, err := s.store.ListDatasets()
	if err != nil {
		return nil, err
	}
	resp := &dao.GetDatasetListResponse{Response: dao.OK()}
	for _, ds := range datasets {
		resp.Datasets = append(resp.Datasets, *dao.FromDatasetModel(ds))
	}
	return resp, nil
}

func (s *Server) getDatasetMetrics(_ context.Context, req *dao.GetDatasetMetricsRequest) (*dao.GetDatasetMetricsResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	m, err := s.store.DatasetMetrics(req.DatasetId)
	if err != nil {
		return nil, err
	}
	return &dao.GetDatasetMetricsResponse{
		Response: dao.OK(),
		Metrics: &dao.DatasetMetrics{
			DatasetId:    m.DatasetId,
			VideoCount:   m.VideoCount,
			TaskCount:    m.TaskCount,
			ProcessCount: m.ProcessCount,
		},
	}, nil
}

// deleteDataset stops the processes of the dataset, then removes its records
// and its imported files.
func (s *Server) deleteDataset(ctx context.Context, req *dao.DeleteDatasetRequest) (*dao.DeleteDatasetResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.manager.StopDataset(req.DatasetId)
	if err := s.store.DeleteDataset(req.DatasetId); err != nil {
		return nil, err
	}
	if err := s.storage.RemoveDataset(ctx, req.DatasetId); err != nil {
		log.GetLogger(ctx).WithError(err).Warnf("remove files of dataset %s", req.DatasetId)
	}
	log.GetLogger(ctx).Infof("dataset %s deleted", req.DatasetId)
	return &dao.DeleteDatasetResponse{Response: dao.OK()}, nil
}
