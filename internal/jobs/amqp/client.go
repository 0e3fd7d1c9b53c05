package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/jobs"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
)

// Client publishes and consumes training jobs over RabbitMQ.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	workers      int
	store        jobs.JobStore
	log          zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithWorkers sets how many deliveries are processed concurrently.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithStore records job state transitions in store.
func WithStore(store jobs.JobStore) Option {
	return func(c *Client) { c.store = store }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(url, exchangeName, queueName string, opts ...Option) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		workers:      1,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// One unacked delivery per worker.
	if err := c.channel.Qos(c.workers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	return nil
}

// PublishTrain publishes a persistent training job message.
func (c *Client) PublishTrain(ctx context.Context, job *jobs.TrainJob) error {
	job.Prepare(uuid.NewString)

	body, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		pubCtx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    job.JobID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	c.saveJob(ctx, job)
	c.log.Info().
		Str("job_id", job.JobID).
		Str("prefix", job.Prefix()).
		Int("retry_count", job.RetryCount).
		Str("queue", c.queueName).
		Msg("Published training job")

	return nil
}

// Start begins consuming training jobs with the configured number of workers.
// It returns once the consumer is registered.
func (c *Client) Start(ctx context.Context, handler jobs.JobHandler) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	ctx, cancel := context.WithCancel(logger.WithContext(ctx, c.log))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.log.Info().Str("queue", c.queueName).Int("workers", c.workers).Msg("Started consuming training jobs")

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-msgs:
					if !ok {
						c.log.Warn().Msg("Delivery channel closed")
						return
					}
					c.handleDelivery(ctx, delivery, handler)
				}
			}
		}()
	}

	return nil
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler jobs.JobHandler) {
	job, err := decodeJob(delivery.Body)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to decode training job")
		_ = delivery.Nack(false, false)
		return
	}

	log := c.log.With().Str("job_id", job.JobID).Str("prefix", job.Prefix()).Logger()

	started := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	c.saveJob(ctx, job)

	herr := handler(ctx, job)
	completed := time.Now()
	job.CompletedAt = &completed

	switch act := outcome(job, herr); act {
	case actionAck:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		c.saveJob(ctx, job)
		_ = delivery.Ack(false)
		log.Info().Dur("took", completed.Sub(started)).Msg("Training job processed")

	case actionReject:
		job.Status = jobs.JobStatusFailed
		job.Error = herr.Error()
		c.saveJob(ctx, job)
		_ = delivery.Nack(false, false)
		log.Error().Err(herr).Int("retry_count", job.RetryCount).Msg("Training job failed")

	case actionRetry:
		job.Error = herr.Error()
		job.Status = jobs.JobStatusRetrying
		c.saveJob(ctx, job)

		delay := exponentialBackoff(job.RetryCount)
		log.Warn().Err(herr).Dur("delay", delay).Msg("Retrying training job")
		select {
		case <-ctx.Done():
			_ = delivery.Nack(false, true)
			return
		case <-time.After(delay):
		}

		retry := *job
		retry.RetryCount++
		retry.Status = jobs.JobStatusPending
		retry.StartedAt = nil
		retry.CompletedAt = nil
		if err := c.PublishTrain(ctx, &retry); err != nil {
			log.Error().Err(err).Msg("Failed to republish training job")
			_ = delivery.Nack(false, true)
			return
		}
		_ = delivery.Ack(false)
	}
}

func (c *Client) saveJob(ctx context.Context, job *jobs.TrainJob) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveJob(ctx, job); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to record job state")
	}
}

// Stop cancels consumption and waits for in-flight deliveries.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// exponentialBackoff doubles the delay per attempt up to maxRetryDelay.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxRetryDelay
	}
	d := baseRetryDelay << attempt
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

var _ jobs.Publisher = (*Client)(nil)
var _ jobs.Consumer = (*Client)(nil)
