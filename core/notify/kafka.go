package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/coachingcentre/notes-store/config"
	"github.com/coachingcentre/notes-store/core/order"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Publisher hands intents to a Kafka topic for cmd/notifier to deliver.
// Writes are asynchronous; failures surface in the log only.
type Publisher struct {
	w   *kafka.Writer
	log logrus.FieldLogger
}

func NewPublisher(cfg config.Kafka, log logrus.FieldLogger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range msgs {
				log.WithField("order_id", string(m.Key)).WithError(err).Error("publishing notification")
			}
		},
	}
	return &Publisher{w: w, log: log}
}

func (p *Publisher) OrderCreated(ctx context.Context, o order.Order) {
	p.publish(ctx, NewIntent(OrderCreated, o))
}

func (p *Publisher) OrderPaid(ctx context.Context, o order.Order) {
	p.publish(ctx, NewIntent(OrderPaid, o))
}

func (p *Publisher) publish(ctx context.Context, in Intent) {
	b, err := json.Marshal(in)
	if err != nil {
		p.log.WithField("order_id", in.Order.ID).WithError(err).Error("encoding notification")
		return
	}

	msg := kafka.Message{
		Key:   []byte(in.Order.ID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(in.Kind)},
		},
	}
	if err := p.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		p.log.WithField("order_id", in.Order.ID).WithError(err).Error("publishing notification")
	}
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.w.Close()
}

const attemptHeader = "attempt"

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads intents from Kafka and delivers them. Each partition is
// handled by a single worker, in offset order. An intent that cannot be
// delivered is published again at the tail of the topic before its offset
// is committed, up to maxRequeues times. When neither delivery nor the
// requeue succeeds the consumer stops without committing, so the intent is
// read again after a restart.
type Consumer struct {
	r           fetcher
	requeue     messageWriter
	d           *Deliverer
	workers     int
	maxRequeues int
	log         logrus.FieldLogger
}

func NewConsumer(cfg config.Kafka, d *Deliverer, log logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, requeue: w, d: d, workers: workers, maxRequeues: cfg.MaxRequeues, log: log}
}

// Run consumes until ctx is cancelled or a message can be neither
// delivered, requeued nor committed.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, c.workers)
	stopped := func() error {
		select {
		case err := <-errs:
			return err
		default:
			return nil
		}
	}

	lanes := make([]chan kafka.Message, c.workers)

	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message)

		wg.Add(1)
		go func(lane <-chan kafka.Message) {
			defer wg.Done()
			for m := range lane {
				if err := c.handle(ctx, m); err != nil {
					// The lane stops here so that no later offset of the
					// partition gets committed past this one.
					if ctx.Err() == nil {
						errs <- err
						cancel()
					}
					return
				}
			}
		}(lanes[i])
	}
	defer func() {
		cancel()
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if werr := stopped(); werr != nil {
				return werr
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetching message: %w", err)
		}

		select {
		case lanes[m.Partition%c.workers] <- m:
		case err := <-errs:
			return err
		case <-ctx.Done():
			return stopped()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	log := c.log.WithFields(logrus.Fields{
		"partition": m.Partition,
		"offset":    m.Offset,
	})

	err := c.process(ctx, m)
	switch {
	case err == nil:
	case errors.Is(err, ErrUndeliverable):
		log.WithError(err).Error("dropping notification")
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		attempt := attempts(m)
		if attempt >= c.maxRequeues {
			log.WithField("attempt", attempt).WithError(err).Error("notification not delivered, giving up")
			break
		}

		if rerr := c.requeue.WriteMessages(ctx, requeued(m, attempt+1)); rerr != nil {
			return fmt.Errorf("requeueing offset %d of partition %d after %v: %w", m.Offset, m.Partition, err, rerr)
		}
		log.WithField("attempt", attempt+1).WithError(err).Warn("notification not delivered, requeued")
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("committing offset %d of partition %d: %w", m.Offset, m.Partition, err)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, m kafka.Message) error {
	var in Intent
	if err := json.Unmarshal(m.Value, &in); err != nil {
		return fmt.Errorf("decoding intent: %v: %w", err, ErrUndeliverable)
	}
	return c.d.Deliver(ctx, in)
}

func (c *Consumer) close() {
	if err := c.r.Close(); err != nil {
		c.log.WithError(err).Warn("closing reader")
	}
	if err := c.requeue.Close(); err != nil {
		c.log.WithError(err).Warn("closing requeue writer")
	}
}

// attempts reads how many times m was requeued already.
func attempts(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == attemptHeader {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

func requeued(m kafka.Message, attempt int) kafka.Message {
	headers := []kafka.Header{{Key: attemptHeader, Value: []byte(strconv.Itoa(attempt))}}
	for _, h := range m.Headers {
		if h.Key != attemptHeader {
			headers = append(headers, h)
		}
	}
	return kafka.Message{Key: m.Key, Value: m.Value, Headers: headers}
}
