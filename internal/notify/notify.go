package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"

	"videoterror/internal/model"
)

type Config struct {
	Enabled  bool   `yaml:"enabled"`
	NSQDAddr string `yaml:"nsqdAddr"`
	Topic    string `yaml:"topic"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		NSQDAddr: "127.0.0.1:4150",
		Topic:    "vtserver_process",
	}
}

// ProcessMessage is published on every process state change.
type ProcessMessage struct {
	DatasetId    string             `json:"dataset_id"`
	ProcessId    string             `json:"process_id"`
	TaskId       string             `json:"task_id"`
	State        model.ProcessState `json:"state"`
	CurrentItem  string             `json:"current_item,omitempty"`
	Progress     float64            `json:"progress"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Timestamp    int64              `json:"timestamp"`
}

func NewProcessMessage(p *model.Process) *ProcessMessage {
	return &ProcessMessage{
		DatasetId:    p.DatasetId,
		ProcessId:    p.Id,
		TaskId:       p.TaskId,
		State:        p.State,
		CurrentItem:  p.CurrentItem,
		Progress:     p.Progress,
		ErrorMessage: p.ErrorMessage,
		Timestamp:    time.Now().UnixNano(),
	}
}

// Producer is satisfied by *nsq.Producer.
type Producer interface {
	Publish(topic string, body []byte) error
	Stop()
}

// Notifier publishes process messages. A nil Notifier drops them.
type Notifier struct {
	producer Producer
	topic    string
	logger   *logrus.Entry
}

func New(conf Config, logger *logrus.Entry) (*Notifier, error) {
	if !conf.Enabled {
		return nil, nil
	}
	producer, err := nsq.NewProducer(conf.NSQDAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	return NewWithProducer(producer, conf.Topic, logger), nil
}

func NewWithProducer(producer Producer, topic string, logger *logrus.Entry) *Notifier {
	return &Notifier{
		producer: producer,
		topic:    topic,
		logger:   logger.WithField("component", "notify"),
	}
}

func (n *Notifier) ProcessChanged(p *model.Process) {
	if n == nil {
		return
	}
	msgData, err := json.Marshal(NewProcessMessage(p))
	if err != nil {
		n.logger.WithError(err).Errorf("marshal message for process %s failed", p.Id)
		return
	}
	if err := n.producer.Publish(n.topic, msgData); err != nil {
		n.logger.WithError(err).Errorf("publish to NSQ failed for process %s", p.Id)
	}
}

func (n *Notifier) Stop() {
	if n == nil {
		return
	}
	n.producer.Stop()
}
