package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videoterror/internal/dao"
	"videoterror/internal/model"
	"videoterror/pkg/log"
)

func (s *Server) findVideo(datasetId, videoId string) (*model.Video, error) {
	v, err := s.store.GetVideo(datasetId, videoId)
	if err != nil {
		return nil, err
	} else if v == nil {
		return nil, failf("Cannot find video %s in dataset %s", videoId, datasetId)
	}
	return v, nil
}

// resolveVideos returns the requested videos in request order, or every video
// of the dataset when none is requested.
func (s *Server) resolveVideos(datasetId string, videoIds []string) ([]*model.Video, error) {
	if len(videoIds) == 0 {
		return s.store.ListVideos(datasetId)
	}
	videos := make([]*model.Video, 0, len(videoIds))
	seen := make(map[string]bool, len(videoIds))
	for _, id := range videoIds {
		if seen[id] {
			continue
		}
		seen[id] = true
		v, err := s.findVideo(datasetId, id)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func videoName(req *dao.AddVideoRequest) string {
	if req.Name != "" {
		return req.Name
	}
	base := filepath.Base(filepath.Clean(req.Filepath))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// addVideo probes and imports the source, then stores the video under its
// name, suffixed with _N when the name is taken.
func (s *Server) addVideo(ctx context.Context, req *dao.AddVideoRequest) (*dao.AddVideoResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	name := videoName(req)
	if name == "" || name == "." || strings.Contains(name, "/") {
		return nil, failf("Invalid video name %q", name)
	}
	if _, err := os.Stat(req.Filepath); err != nil {
		return nil, failf("Cannot find file %s", req.Filepath)
	}
	info, err := s.prober.Probe(req.Filepath)
	if err != nil {
		return nil, failf("Cannot read video %s: %v", req.Filepath, err)
	}

	location, err := s.storage.Import(ctx, req.DatasetId, req.Filepath)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", req.Filepath, err)
	}

	speed := req.Speed
	if speed == 0 {
		speed = 1
	}
	v := &model.Video{
		DatasetId:    req.DatasetId,
		Filepath:     location,
		Location:     req.Location,
		Comment:      req.Comment,
		StartTime:    req.StartTime.Time(),
		LengthFrames: info.LengthFrames,
		Fps:          info.Fps,
		Speed:        speed,
		AddedTime:    time.Now(),
		Source:       req.Filepath,
	}
	for i := 0; ; i++ {
		v.Id = name
		if i > 0 {
			v.Id = fmt.Sprintf("%s_%d", name, i)
		}
		err = s.store.AddVideo(v)
		if !errors.Is(err, model.ErrExists) {
			break
		}
	}
	if err != nil {
		if rmErr := s.storage.Remove(ctx, req.DatasetId, location); rmErr != nil {
			log.GetLogger(ctx).WithError(rmErr).Warnf("remove %s", location)
		}
		return nil, err
	}

	log.GetLogger(ctx).Infof("video %s added to dataset %s, %d frames at %.2f fps",
		v.Id, v.DatasetId, v.LengthFrames, v.Fps)
	return &dao.AddVideoResponse{Response: dao.OK(), VideoId: v.Id}, nil
}

func (s *Server) getVideoIDList(_ context.Context, req *dao.GetVideoIDListRequest) (*dao.GetVideoIDListResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	videos, err := s.store.ListVideos(req.DatasetId)
	if err != nil {
		return nil, err
	}
	resp := &dao.GetVideoIDListResponse{Response: dao.OK()}
	for _, v := range videos {
		resp.VideoIds = append(resp.VideoIds, v.Id)
	}
	return resp, nil
}

func (s *Server) getVideoInfo(_ context.Context, req *dao.GetVideoInfoRequest) (*dao.GetVideoInfoResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	videos, err := s.resolveVideos(req.DatasetId, req.VideoIds)
	if err != nil {
		return nil, err
	}
	resp := &dao.GetVideoInfoResponse{Response: dao.OK()}
	for _, v := range videos {
		resp.Videos = append(resp.Videos, *dao.FromVideoModel(v))
	}
	return resp, nil
}

// setVideoInfo replaces the start time. An absent start time clears it.
func (s *Server) setVideoInfo(_ context.Context, req *dao.SetVideoInfoRequest) (*dao.SetVideoInfoResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	v, err := s.findVideo(req.DatasetId, req.VideoId)
	if err != nil {
		return nil, err
	}
	v.StartTime = req.StartTime.Time()
	if err := s.store.UpdateVideo(v); err != nil {
		return nil, err
	}
	return &dao.SetVideoInfoResponse{Response: dao.OK()}, nil
}

func (s *Server) deleteVideo(ctx context.Context, req *dao.DeleteVideoRequest) (*dao.DeleteVideoResponse, error) {
	if _, err := s.findDataset(req.DatasetId); err != nil {
		return nil, err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	v, err := s.findVideo(req.DatasetId, req.VideoId)
	if err != nil {
		return nil, err
	}
	if s.manager.BusyVideo(req.DatasetId, req.VideoId) {
		return nil, failf("Video %s is being processed", req.VideoId)
	}
	if err := s.store.DeleteVideo(req.DatasetId, req.VideoId); err != nil {
		return nil, err
	}
	if v.Filepath != v.Source {
		if err := s.storage.Remove(ctx, req.DatasetId, v.Filepath); err != nil {
			log.GetLogger(ctx).WithError(err).Warnf("remove %s", v.Filepath)
		}
	}
	log.GetLogger(ctx).Infof("video %s deleted from dataset %s", req.VideoId, req.DatasetId)
	return &dao.DeleteVideoResponse{Response: dao.OK()}, nil
}
