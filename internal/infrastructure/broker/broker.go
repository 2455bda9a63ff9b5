package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RunSaver persists a fully received run.
type RunSaver interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

const defaultAssemblyTimeout = 5 * time.Minute

// ConsumerConfig describes the queue a Consumer reads published runs from.
// An empty Queue binds an exclusive server-named queue.
type ConsumerConfig struct {
	URL             string
	Exchange        string
	Queue           string
	Prefetch        int
	AssemblyTimeout time.Duration
}

// Consumer subscribes to the positions exchange, reassembles runs from their
// batches and hands complete runs to a RunSaver. Position batches are acked
// once staged; the summary delivery of a run is held until the run is saved.
type Consumer struct {
	cfg    ConsumerConfig
	saver  RunSaver
	logger *logrus.Entry
	now    func() time.Time
	saved  []func(ctx context.Context)

	conn    *amqp.Connection
	channel *amqp.Channel
	wg      sync.WaitGroup

	pending map[uuid.UUID]*assembly
}

type assembly struct {
	asOf    time.Time
	started time.Time
	batches map[int][]domain.Position
	summary *RunSummary
	held    *amqp.Delivery
}

func (a *assembly) complete() bool {
	return a.summary != nil && len(a.batches) >= a.summary.Batches
}

func NewConsumer(cfg ConsumerConfig, saver RunSaver, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if saver == nil {
		return nil, errors.New("run saver is required")
	}
	return newConsumer(cfg, saver, logger), nil
}

func newConsumer(cfg ConsumerConfig, saver RunSaver, logger *logrus.Logger) *Consumer {
	if cfg.AssemblyTimeout <= 0 {
		cfg.AssemblyTimeout = defaultAssemblyTimeout
	}
	return &Consumer{
		cfg:     cfg,
		saver:   saver,
		logger:  logger.WithFields(logrus.Fields{"component": "run_consumer", "exchange": cfg.Exchange}),
		now:     time.Now,
		pending: make(map[uuid.UUID]*assembly),
	}
}

// OnRunSaved registers fn to run after every stored run. It must be called
// before Start.
func (c *Consumer) OnRunSaved(fn func(ctx context.Context)) {
	c.saved = append(c.saved, fn)
}

// Start establishes the AMQP connection and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.conn = conn

	ch, err := conn.Channel()
	if err != nil {
		c.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	c.channel = ch
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		c.Close()
		return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}
	durable, exclusive := c.cfg.Queue != "", c.cfg.Queue == ""
	queue, err := ch.QueueDeclare(c.cfg.Queue, durable, exclusive, exclusive, false, nil)
	if err != nil {
		c.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", c.cfg.Exchange, false, nil); err != nil {
		c.Close()
		return fmt.Errorf("bind queue %s to %s: %w", queue.Name, c.cfg.Exchange, err)
	}
	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			c.Close()
			return fmt.Errorf("set qos: %w", err)
		}
	}
	deliveries, err := ch.Consume(queue.Name, "", false, exclusive, false, false, nil)
	if err != nil {
		c.Close()
		return fmt.Errorf("start consume: %w", err)
	}

	c.wg.Add(1)
	go c.consumeLoop(ctx, deliveries)
	c.logger.WithField("queue", queue.Name).Info("rabbitmq consumer started")
	return nil
}

// Close stops consumption and waits for the loop to exit. Held summaries are
// redelivered by the broker; their staged batches are not.
func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.wg.Wait()
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	sweep := time.NewTicker(c.cfg.AssemblyTimeout)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			c.expire()
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.WithError(err).Warn("dropping undecodable message")
		_ = delivery.Reject(false)
		return
	}
	log := c.logger.WithFields(logrus.Fields{"run_id": msg.RunID.String(), "kind": msg.Kind, "seq": msg.Seq})

	a, err := c.add(msg, delivery)
	if err != nil {
		log.WithError(err).Warn("dropping invalid message")
		_ = delivery.Reject(false)
		return
	}
	if msg.Kind == kindPositions {
		if err := delivery.Ack(false); err != nil {
			log.WithError(err).Warn("failed to ack delivery")
		}
	}
	if !a.complete() {
		return
	}

	run := a.run(msg.RunID)
	if err := c.saver.SaveRun(ctx, run); err != nil {
		log.WithError(err).Error("failed to save run")
		// Staged batches stay pending; the requeued summary retries the save.
		held := a.held
		a.summary, a.held = nil, nil
		_ = held.Nack(false, true)
		return
	}
	delete(c.pending, msg.RunID)
	if err := a.held.Ack(false); err != nil {
		log.WithError(err).Warn("failed to ack delivery")
	}
	for _, fn := range c.saved {
		fn(ctx)
	}
	log.WithFields(logrus.Fields{
		"positions": len(run.Positions),
		"missing":   len(run.MissingPriceAssets),
	}).Info("run received")
}

// add stages msg in the assembly of its run and returns that assembly.
func (c *Consumer) add(msg Message, delivery amqp.Delivery) (*assembly, error) {
	if msg.RunID == uuid.Nil {
		return nil, errors.New("message without run id")
	}
	switch msg.Kind {
	case kindPositions:
	case kindSummary:
		if msg.Summary == nil {
			return nil, errors.New("summary message without summary")
		}
	default:
		return nil, fmt.Errorf("unsupported message kind %q", msg.Kind)
	}

	a, ok := c.pending[msg.RunID]
	if !ok {
		a = &assembly{asOf: msg.AsOf, started: c.now(), batches: make(map[int][]domain.Position)}
		c.pending[msg.RunID] = a
	}
	if msg.Kind == kindPositions {
		a.batches[msg.Seq] = msg.Positions
		return a, nil
	}
	if a.held != nil {
		return nil, errors.New("duplicate summary for run")
	}
	a.summary = msg.Summary
	a.held = &delivery
	return a, nil
}

// expire drops runs that stayed incomplete for longer than AssemblyTimeout,
// rejecting their held summary.
func (c *Consumer) expire() {
	now := c.now()
	for id, a := range c.pending {
		if now.Sub(a.started) < c.cfg.AssemblyTimeout {
			continue
		}
		delete(c.pending, id)
		c.logger.WithFields(logrus.Fields{
			"run_id":  id.String(),
			"batches": len(a.batches),
			"summary": a.held != nil,
		}).Warn("dropping incomplete run")
		if a.held != nil {
			_ = a.held.Reject(false)
		}
	}
}

func (a *assembly) run(id uuid.UUID) *domain.Run {
	seqs := make([]int, 0, len(a.batches))
	for seq := range a.batches {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	run := &domain.Run{
		ID:                 id,
		AsOf:               a.asOf,
		CreatedAt:          a.summary.CreatedAt,
		Positions:          make([]domain.Position, 0, a.summary.Positions),
		MissingPriceAssets: a.summary.MissingPriceAssets,
		Stats:              a.summary.Stats,
	}
	traders := make(map[string]*domain.Trader)
	for _, seq := range seqs {
		for _, p := range a.batches[seq] {
			if p.Trader != nil {
				if shared, ok := traders[p.Trader.Name]; ok {
					p.Trader = shared
				} else {
					traders[p.Trader.Name] = p.Trader
				}
			}
			run.Positions = append(run.Positions, p)
		}
	}
	return run
}
