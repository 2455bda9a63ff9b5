package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends finished runs to a fanout exchange.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	batch    BatchConfig
	logger   *logrus.Entry

	mu sync.Mutex
}

func NewPublisher(url, exchange string, batch BatchConfig, logger *logrus.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := newPublisher(ch, exchange, batch, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, batch BatchConfig, logger *logrus.Logger) *Publisher {
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		batch:    batch,
		logger:   logger.WithFields(logrus.Fields{"component": "run_publisher", "exchange": exchange}),
	}
}

func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// PublishRun streams the positions of run in batches and closes the run with
// a summary message carrying the batch count.
func (p *Publisher) PublishRun(ctx context.Context, run *domain.Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	seq := 0
	buf := newBatchBuffer(ctx, p.batch, func(ctx context.Context, batch []domain.Position) error {
		p.mu.Lock()
		msg := Message{Kind: kindPositions, RunID: run.ID, AsOf: run.AsOf, Seq: seq, Positions: batch}
		seq++
		p.mu.Unlock()
		return p.publish(ctx, msg)
	}, p.logger.WithField("run_id", run.ID.String()))

	for i := range run.Positions {
		if err := buf.enqueue(run.Positions[i]); err != nil {
			_ = buf.close()
			return fmt.Errorf("publish positions of run %s: %w", run.ID, err)
		}
	}
	if err := buf.close(); err != nil {
		return fmt.Errorf("publish positions of run %s: %w", run.ID, err)
	}

	p.mu.Lock()
	batches := seq
	p.mu.Unlock()

	summary := Message{
		Kind:  kindSummary,
		RunID: run.ID,
		AsOf:  run.AsOf,
		Seq:   batches,
		Summary: &RunSummary{
			CreatedAt:          run.CreatedAt,
			Batches:            batches,
			Positions:          len(run.Positions),
			MissingPriceAssets: run.MissingPriceAssets,
			Stats:              run.Stats,
		},
	}
	if err := p.publish(ctx, summary); err != nil {
		return fmt.Errorf("publish summary of run %s: %w", run.ID, err)
	}
	p.logger.WithFields(logrus.Fields{
		"run_id":    run.ID.String(),
		"batches":   batches,
		"positions": len(run.Positions),
	}).Info("run published")
	return nil
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Kind, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    fmt.Sprintf("%s/%s/%d", msg.RunID, msg.Kind, msg.Seq),
		Type:         string(msg.Kind),
		Body:         body,
	})
}
