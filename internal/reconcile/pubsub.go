package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/subsync/pkg/logger"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultConsumeTimeout = 45 * time.Second
)

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// PubSubDispatcher publishes tasks to a topic so they survive restarts. A
// Consumer on the matching subscription runs them.
type PubSubDispatcher struct {
	pub     publisher
	timeout time.Duration
	logg    *logger.Logger
}

// NewPubSubDispatcher wraps a Pub/Sub publisher.
func NewPubSubDispatcher(pub *gcppubsub.Publisher, timeout time.Duration, logg *logger.Logger) (*PubSubDispatcher, error) {
	if pub == nil {
		return nil, fmt.Errorf("reconcile publisher required")
	}
	return newPubSubDispatcher(&gcpPublisher{Publisher: pub}, timeout, logg)
}

func newPubSubDispatcher(pub publisher, timeout time.Duration, logg *logger.Logger) (*PubSubDispatcher, error) {
	if pub == nil {
		return nil, fmt.Errorf("reconcile publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubDispatcher{pub: pub, timeout: timeout, logg: logg}, nil
}

// Dispatch publishes task and waits for the server ack, bounded by the
// publish timeout.
func (d *PubSubDispatcher) Dispatch(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode reconcile task: %w", err)
	}

	msg := &gcppubsub.Message{
		Data:        data,
		OrderingKey: task.CustomerID,
		Attributes: map[string]string{
			"event_id":    task.EventID,
			"event_type":  task.EventType,
			"customer_id": task.CustomerID,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := d.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	id, err := result.Get(publishCtx)
	if err != nil {
		// a failed publish pauses its ordering key until resumed
		d.pub.ResumePublish(task.CustomerID)
		return fmt.Errorf("publish reconcile task: %w", err)
	}
	d.logg.Debug(d.logg.WithField(ctx, "message_id", id), "reconcile task published")
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

func (p *gcpPublisher) ResumePublish(orderingKey string) {
	if p == nil || p.Publisher == nil {
		return
	}
	p.Publisher.ResumePublish(orderingKey)
}

// Consumer pulls reconcile tasks from Pub/Sub. Successful and permanently
// failed tasks are acked; transient failures are nacked for redelivery.
type Consumer struct {
	subscription *gcppubsub.Subscriber
	runner       Runner
	timeout      time.Duration
	logg         *logger.Logger
}

// NewConsumer builds a reconcile consumer.
func NewConsumer(subscription *gcppubsub.Subscriber, runner Runner, timeout time.Duration, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("reconcile subscription required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if timeout <= 0 {
		timeout = defaultConsumeTimeout
	}
	return &Consumer{subscription: subscription, runner: runner, timeout: timeout, logg: logg}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process runs one message and reports whether it should be acked.
func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		c.logg.Error(logCtx, "reconcile message undecodable; dropping", err)
		return true
	}

	attempt := 1
	if msg.DeliveryAttempt != nil {
		attempt = *msg.DeliveryAttempt
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.runner.Run(runCtx, task, attempt)
	if err == nil {
		return true
	}
	return !IsRetryable(err)
}
