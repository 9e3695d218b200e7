package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"
)

// Consumer hands process messages from NSQ to a callback.
type Consumer struct {
	consumer *nsq.Consumer
	handle   func(*ProcessMessage)
	logger   *logrus.Entry
}

func NewConsumer(conf Config, channel string, handle func(*ProcessMessage), logger *logrus.Entry) (*Consumer, error) {
	config := nsq.NewConfig()
	config.MsgTimeout = time.Minute
	config.MaxInFlight = 10
	config.MaxAttempts = 2

	consumer, err := nsq.NewConsumer(conf.Topic, channel, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ consumer: %w", err)
	}
	c := &Consumer{
		consumer: consumer,
		handle:   handle,
		logger:   logger.WithField("component", "consumer"),
	}
	consumer.AddHandler(c)
	return c, nil
}

func (c *Consumer) HandleMessage(message *nsq.Message) error {
	c.logger.Debugf("Received NSQ message: %s", string(message.Body))

	var msg ProcessMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		// a malformed message will not parse on redelivery either
		c.logger.WithError(err).Error("Failed to unmarshal NSQ message")
		return nil
	}
	c.handle(&msg)
	return nil
}

func (c *Consumer) Start(nsqdAddr string) error {
	if err := c.consumer.ConnectToNSQD(nsqdAddr); err != nil {
		return fmt.Errorf("failed to connect to NSQ: %w", err)
	}
	return nil
}

func (c *Consumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
}
