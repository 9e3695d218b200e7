package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrExists = errors.New("already exists")

const (
	datasetKeyPrefix  = "ds/"
	videoKeyPrefix    = "vid/"
	taskKeyPrefix     = "task/"
	processKeyPrefix  = "proc/"
	progressKeyPrefix = "prog/"
	eventsKeyPrefix   = "evt/"
	metadataKeyPrefix = "meta/"
)

func key(prefix string, parts ...string) string {
	return prefix + strings.Join(parts, "/")
}

// Store keeps datasets and everything they own. It is safe for concurrent use
// as long as the KV backend is.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// NewMemoryStore is a Store over a process-local map.
func NewMemoryStore() *Store {
	return NewStore(NewMemoryKV())
}

// OpenStore opens a badger backed Store. An empty dir keeps it in memory.
func OpenStore(dir string) (*Store, error) {
	kv, err := NewBadgerKV(dir)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	return NewStore(kv), nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

func getJSON[T any](tx Txn, k string) (*T, error) {
	val, err := tx.Get(k)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(val, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", k, err)
	}
	return &v, nil
}

func putJSON(tx Txn, k string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return tx.Set(k, data)
}

func scanJSON[T any](tx Txn, prefix string) ([]*T, error) {
	var items []*T
	err := tx.Scan(prefix, func(k string, val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", k, err)
		}
		items = append(items, &v)
		return nil
	})
	return items, err
}

func deletePrefix(tx Txn, prefix string) error {
	var keys []string
	err := tx.Scan(prefix, func(k string, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddDataset(ds *Dataset) error {
	return s.kv.Update(func(tx Txn) error {
		old, err := getJSON[Dataset](tx, key(datasetKeyPrefix, ds.Id))
		if err != nil {
			return err
		} else if old != nil {
			return fmt.Errorf("dataset %s: %w", ds.Id, ErrExists)
		}
		return putJSON(tx, key(datasetKeyPrefix, ds.Id), ds)
	})
}

func (s *Store) GetDataset(id string) (ds *Dataset, err error) {
	err = s.kv.View(func(tx Txn) error {
		ds, err = getJSON[Dataset](tx, key(datasetKeyPrefix, id))
		return err
	})
	return ds, err
}

func (s *Store) ListDatasets() (datasets []*Dataset, err error) {
	err = s.kv.View(func(tx Txn) error {
		datasets, err = scanJSON[Dataset](tx, datasetKeyPrefix)
		return err
	})
	return datasets, err
}

// DeleteDataset removes the dataset and everything it owns in one transaction.
func (s *Store) DeleteDataset(id string) error {
	return s.kv.Update(func(tx Txn) error {
		for _, prefix := range []string{
			videoKeyPrefix, taskKeyPrefix, processKeyPrefix,
			progressKeyPrefix, eventsKeyPrefix, metadataKeyPrefix,
		} {
			if err := deletePrefix(tx, key(prefix, id, "")); err != nil {
				return err
			}
		}
		return tx.Delete(key(datasetKeyPrefix, id))
	})
}

func (s *Store) DatasetMetrics(id string) (*DatasetMetrics, error) {
	m := &DatasetMetrics{DatasetId: id}
	err := s.kv.View(func(tx Txn) error {
		for prefix, counter := range map[string]*int64{
			videoKeyPrefix:   &m.VideoCount,
			taskKeyPrefix:    &m.TaskCount,
			processKeyPrefix: &m.ProcessCount,
		} {
			err := tx.Scan(key(prefix, id, ""), func(string, []byte) error {
				*counter++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) AddVideo(v *Video) error {
	return s.kv.Update(func(tx Txn) error {
		k := key(videoKeyPrefix, v.DatasetId, v.Id)
		old, err := getJSON[Video](tx, k)
		if err != nil {
			return err
		} else if old != nil {
			return fmt.Errorf("video %s: %w", v.Id, ErrExists)
		}
		return putJSON(tx, k, v)
	})
}

func (s *Store) UpdateVideo(v *Video) error {
	return s.kv.Update(func(tx Txn) error {
		return putJSON(tx, key(videoKeyPrefix, v.DatasetId, v.Id), v)
	})
}

func (s *Store) GetVideo(datasetId, id string) (v *Video, err error) {
	err = s.kv.View(func(tx Txn) error {
		v, err = getJSON[Video](tx, key(videoKeyPrefix, datasetId, id))
		return err
	})
	return v, err
}

func (s *Store) ListVideos(datasetId string) (videos []*Video, err error) {
	err = s.kv.View(func(tx Txn) error {
		videos, err = scanJSON[Video](tx, key(videoKeyPrefix, datasetId, ""))
		return err
	})
	return videos, err
}

// DeleteVideo removes the video with its progress and outputs of every task.
func (s *Store) DeleteVideo(datasetId, id string) error {
	return s.kv.Update(func(tx Txn) error {
		for _, prefix := range []string{progressKeyPrefix, eventsKeyPrefix, metadataKeyPrefix} {
			var keys []string
			err := tx.Scan(key(prefix, datasetId, ""), func(k string, _ []byte) error {
				if strings.HasSuffix(k, "/"+id) {
					keys = append(keys, k)
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range keys {
				if err := tx.Delete(k); err != nil {
					return err
				}
			}
		}
		return tx.Delete(key(videoKeyPrefix, datasetId, id))
	})
}

// AddTask stores the task unless one with the same id exists. It reports
// whether the task was created.
func (s *Store) AddTask(t *Task) (created bool, err error) {
	err = s.kv.Update(func(tx Txn) error {
		k := key(taskKeyPrefix, t.DatasetId, t.Id)
		old, err := getJSON[Task](tx, k)
		if err != nil {
			return err
		} else if old != nil {
			return nil
		}
		created = true
		return putJSON(tx, k, t)
	})
	return created, err
}

func (s *Store) GetTask(datasetId, id string) (t *Task, err error) {
	err = s.kv.View(func(tx Txn) error {
		t, err = getJSON[Task](tx, key(taskKeyPrefix, datasetId, id))
		return err
	})
	return t, err
}

func (s *Store) ListTasks(datasetId string) (tasks []*Task, err error) {
	err = s.kv.View(func(tx Txn) error {
		tasks, err = scanJSON[Task](tx, key(taskKeyPrefix, datasetId, ""))
		return err
	})
	return tasks, err
}

// taskClosure returns id followed by every task depending on it, directly or
// through other tasks.
func taskClosure(tasks []*Task, id string) []string {
	dependents := make(map[string][]string)
	for _, t := range tasks {
		if t.PrereqTaskId != "" {
			dependents[t.PrereqTaskId] = append(dependents[t.PrereqTaskId], t.Id)
		}
	}
	var closure []string
	queue := []string{id}
	seen := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		closure = append(closure, cur)
		queue = append(queue, dependents[cur]...)
	}
	return closure
}

// TaskClosure returns the ids DeleteTask would remove.
func (s *Store) TaskClosure(datasetId, id string) (closure []string, err error) {
	err = s.kv.View(func(tx Txn) error {
		tasks, err := scanJSON[Task](tx, key(taskKeyPrefix, datasetId, ""))
		if err != nil {
			return err
		}
		closure = taskClosure(tasks, id)
		return nil
	})
	return closure, err
}

// DeleteTask removes the task, its dependents, and their processes, progress
// and outputs. It returns the ids of all removed tasks.
func (s *Store) DeleteTask(datasetId, id string) (deleted []string, err error) {
	err = s.kv.Update(func(tx Txn) error {
		tasks, err := scanJSON[Task](tx, key(taskKeyPrefix, datasetId, ""))
		if err != nil {
			return err
		}
		deleted = taskClosure(tasks, id)
		seen := make(map[string]bool, len(deleted))
		for _, taskId := range deleted {
			seen[taskId] = true
		}

		procs, err := scanJSON[Process](tx, key(processKeyPrefix, datasetId, ""))
		if err != nil {
			return err
		}
		for _, p := range procs {
			if seen[p.TaskId] {
				if err := tx.Delete(key(processKeyPrefix, datasetId, p.Id)); err != nil {
					return err
				}
			}
		}
		for _, taskId := range deleted {
			for _, prefix := range []string{progressKeyPrefix, eventsKeyPrefix, metadataKeyPrefix} {
				if err := deletePrefix(tx, key(prefix, datasetId, taskId, "")); err != nil {
					return err
				}
			}
			if err := tx.Delete(key(taskKeyPrefix, datasetId, taskId)); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

func (s *Store) SaveProcess(p *Process) error {
	return s.kv.Update(func(tx Txn) error {
		return putJSON(tx, key(processKeyPrefix, p.DatasetId, p.Id), p)
	})
}

// UpdateProcess stores p only while the process still exists.
func (s *Store) UpdateProcess(p *Process) error {
	return s.kv.Update(func(tx Txn) error {
		k := key(processKeyPrefix, p.DatasetId, p.Id)
		old, err := getJSON[Process](tx, k)
		if err != nil {
			return err
		} else if old == nil {
			return fmt.Errorf("process %s: %w", p.Id, ErrNotFound)
		}
		return putJSON(tx, k, p)
	})
}

func (s *Store) GetProcess(datasetId, id string) (p *Process, err error) {
	err = s.kv.View(func(tx Txn) error {
		p, err = getJSON[Process](tx, key(processKeyPrefix, datasetId, id))
		return err
	})
	return p, err
}

func (s *Store) ListProcesses(datasetId string) (procs []*Process, err error) {
	err = s.kv.View(func(tx Txn) error {
		procs, err = scanJSON[Process](tx, key(processKeyPrefix, datasetId, ""))
		return err
	})
	return procs, err
}

func (s *Store) SetProgress(p *VideoProgress) error {
	return s.kv.Update(func(tx Txn) error {
		return putJSON(tx, key(progressKeyPrefix, p.DatasetId, p.TaskId, p.VideoId), p)
	})
}

func (s *Store) GetProgress(datasetId, taskId, videoId string) (p *VideoProgress, err error) {
	err = s.kv.View(func(tx Txn) error {
		p, err = getJSON[VideoProgress](tx, key(progressKeyPrefix, datasetId, taskId, videoId))
		return err
	})
	return p, err
}

// ListProgress returns the progress records of a task keyed by video id.
func (s *Store) ListProgress(datasetId, taskId string) (map[string]*VideoProgress, error) {
	var items []*VideoProgress
	err := s.kv.View(func(tx Txn) (err error) {
		items, err = scanJSON[VideoProgress](tx, key(progressKeyPrefix, datasetId, taskId, ""))
		return err
	})
	if err != nil {
		return nil, err
	}
	progress := make(map[string]*VideoProgress, len(items))
	for _, p := range items {
		progress[p.VideoId] = p
	}
	return progress, nil
}

// CommitOutput stores the outputs of one video and marks it done in the same
// transaction, so a done video always has its outputs visible.
func (s *Store) CommitOutput(p *VideoProgress, events *VideoEvents, meta *VideoMetadata) error {
	return s.kv.Update(func(tx Txn) error {
		task, err := getJSON[Task](tx, key(taskKeyPrefix, p.DatasetId, p.TaskId))
		if err != nil {
			return err
		} else if task == nil {
			return fmt.Errorf("task %s: %w", p.TaskId, ErrNotFound)
		}
		if events != nil {
			if err := putJSON(tx, key(eventsKeyPrefix, p.DatasetId, p.TaskId, p.VideoId), events); err != nil {
				return err
			}
		}
		if meta != nil {
			if err := putJSON(tx, key(metadataKeyPrefix, p.DatasetId, p.TaskId, p.VideoId), meta); err != nil {
				return err
			}
		}
		p.Done = true
		return putJSON(tx, key(progressKeyPrefix, p.DatasetId, p.TaskId, p.VideoId), p)
	})
}

func (s *Store) GetEvents(datasetId, taskId, videoId string) (e *VideoEvents, err error) {
	err = s.kv.View(func(tx Txn) error {
		e, err = getJSON[VideoEvents](tx, key(eventsKeyPrefix, datasetId, taskId, videoId))
		return err
	})
	return e, err
}

func (s *Store) GetMetadata(datasetId, taskId, videoId string) (m *VideoMetadata, err error) {
	err = s.kv.View(func(tx Txn) error {
		m, err = getJSON[VideoMetadata](tx, key(metadataKeyPrefix, datasetId, taskId, videoId))
		return err
	})
	return m, err
}
