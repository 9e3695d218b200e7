package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v2"

	"videoterror/internal/dao"
)

type VideoSpec struct {
	Filepath string `yaml:"filepath"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
	// StartTime is RFC 3339.
	StartTime string  `yaml:"startTime"`
	Speed     float64 `yaml:"speed"`
	Comment   string  `yaml:"comment"`
}

func (v *VideoSpec) request(datasetId string) (*dao.AddVideoRequest, error) {
	req := &dao.AddVideoRequest{
		DatasetId: datasetId,
		Filepath:  v.Filepath,
		Name:      v.Name,
		Location:  v.Location,
		Speed:     v.Speed,
		Comment:   v.Comment,
	}
	if v.StartTime != "" {
		t, err := time.Parse(time.RFC3339, v.StartTime)
		if err != nil {
			return nil, fmt.Errorf("video %s: invalid start time: %w", v.Filepath, err)
		}
		req.StartTime = dao.NewTimestamp(t)
	}
	return req, nil
}

// Pipeline describes a dataset, its videos and the stages run over them.
type Pipeline struct {
	Dataset      string      `yaml:"dataset"`
	FriendlyName string      `yaml:"friendlyName"`
	Description  string      `yaml:"description"`
	Videos       []VideoSpec `yaml:"videos"`
	Stages       []StageSpec `yaml:"stages"`
	// Teardown removes everything the pipeline created once it ends.
	Teardown     bool   `yaml:"teardown"`
	Orchestrator Config `yaml:"orchestrator"`
}

func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %v", err)
	}
	p := &Pipeline{Orchestrator: DefaultConfig()}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline file: %v", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that stage names are unique and every prerequisite names
// an earlier stage.
func (p *Pipeline) Validate() error {
	if p.Dataset == "" {
		return errors.New("pipeline has no dataset")
	}
	seen := make(map[string]StageKind, len(p.Stages))
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("duplicate stage %s", s.Name)
		}
		if s.Module == "" {
			return fmt.Errorf("stage %s has no module", s.Name)
		}
		switch s.Kind {
		case StageVideoProcessing:
			if s.Prereq != "" {
				return fmt.Errorf("stage %s: %s takes no prerequisite", s.Name, s.Kind)
			}
		case StageProcessingMetadata, StageEventDetection:
			if s.Prereq == "" {
				return fmt.Errorf("stage %s: %s needs a prerequisite", s.Name, s.Kind)
			}
			if _, ok := seen[s.Prereq]; !ok {
				return fmt.Errorf("stage %s: prerequisite %s is not an earlier stage", s.Name, s.Prereq)
			}
		default:
			return fmt.Errorf("stage %s: unknown kind %q", s.Name, s.Kind)
		}
		if _, err := s.taskParams(); err != nil {
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
		seen[s.Name] = s.Kind
	}
	return nil
}

// Report is what a pipeline run created and produced.
type Report struct {
	DatasetId string
	VideoIds  []string
	// TaskIds lists the created tasks in creation order.
	TaskIds []string
	Stages  []*StageResult
}

func (r *Report) Stage(name string) *StageResult {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s
		}
	}
	return nil
}

// Run adds the dataset and the videos, then runs the stages in order. Any
// failure stops the pipeline. The report holds everything done so far.
func (o *Orchestrator) Run(ctx context.Context, p *Pipeline) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	report := &Report{}
	err := o.run(ctx, p, report)
	if p.Teardown && report.DatasetId != "" {
		if terr := o.Teardown(context.WithoutCancel(ctx), report); terr != nil {
			o.logger.WithError(terr).Warn("teardown incomplete")
			err = errors.Join(err, terr)
		}
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, p *Pipeline, report *Report) error {
	const setup = "setup"
	ds, err := o.api.AddDataset(ctx, &dao.AddDatasetRequest{
		Name: p.Dataset, FriendlyName: p.FriendlyName, Description: p.Description,
	})
	if err != nil {
		return &StageError{Stage: setup, Step: StepDataset, Err: err}
	} else if err := result("addDataset", ds); err != nil {
		return &StageError{Stage: setup, Step: StepDataset, Err: err}
	}
	report.DatasetId = ds.DatasetId
	o.logger.Infof("dataset %s added", ds.DatasetId)

	for i := range p.Videos {
		req, err := p.Videos[i].request(report.DatasetId)
		if err != nil {
			return &StageError{Stage: setup, Step: StepVideo, Err: err}
		}
		v, err := o.api.AddVideo(ctx, req)
		if err != nil {
			return &StageError{Stage: setup, Step: StepVideo, Err: err}
		} else if err := result("addVideo", v); err != nil {
			return &StageError{Stage: setup, Step: StepVideo, Err: err}
		}
		report.VideoIds = append(report.VideoIds, v.VideoId)
		o.logger.Infof("video %s added", v.VideoId)
	}

	taskIds := make(map[string]string, len(p.Stages))
	for _, spec := range p.Stages {
		res, err := o.RunStage(ctx, report.DatasetId, spec, taskIds[spec.Prereq], report.VideoIds)
		if res != nil && res.TaskId != "" && !slices.Contains(report.TaskIds, res.TaskId) {
			report.TaskIds = append(report.TaskIds, res.TaskId)
		}
		if err != nil {
			return err
		}
		taskIds[spec.Name] = res.TaskId
		report.Stages = append(report.Stages, res)
	}
	return nil
}

// Teardown deletes the tasks of report in reverse creation order, then its
// videos, then its dataset. It keeps going past failures and returns them
// joined.
func (o *Orchestrator) Teardown(ctx context.Context, report *Report) error {
	var errs []error
	check := func(op string, resp interface{ Result() *dao.RequestResult }, err error) {
		if err == nil {
			err = result(op, resp)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	ids := report.TaskIds
	for i := len(ids) - 1; i >= 0; i-- {
		resp, err := o.api.DeleteTask(ctx, &dao.DeleteTaskRequest{DatasetId: report.DatasetId, TaskId: ids[i]})
		check("deleteTask", resp, err)
	}
	for _, id := range report.VideoIds {
		resp, err := o.api.DeleteVideo(ctx, &dao.DeleteVideoRequest{DatasetId: report.DatasetId, VideoId: id})
		check("deleteVideo", resp, err)
	}
	resp, err := o.api.DeleteDataset(ctx, &dao.DeleteDatasetRequest{DatasetId: report.DatasetId})
	check("deleteDataset", resp, err)

	if len(errs) == 0 {
		o.logger.Infof("dataset %s torn down", report.DatasetId)
	}
	return errors.Join(errs...)
}
