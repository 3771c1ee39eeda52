// Package consumer runs the durable RabbitMQ subscription that feeds the
// dispatcher. The loop owns its AMQP connection and channel exclusively; no
// other component issues broker I/O.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/PetaTalenta/notification-service/internal/config"
	"github.com/PetaTalenta/notification-service/internal/event"
	"github.com/PetaTalenta/notification-service/pkg/interfaces"
)

// State tracks the consumption loop's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribed
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateConsuming:
		return "consuming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the externally visible consumer state for health reporting.
type Status struct {
	Consuming bool `json:"consuming"`
	Connected bool `json:"connected"`
}

// Bindings between the topic exchange and the notification queue.
var routingKeys = []string{
	event.TypeStarted,
	event.TypeCompleted,
	event.TypeFailed,
}

// Consumer is the broker consumption loop. A lost connection moves it back
// to connecting after a fixed delay, indefinitely; there is no fatal state.
// The loop is designed to outlive transient broker outages while the
// webhook path keeps serving.
type Consumer struct {
	cfg        *config.AMQPConfig
	dispatcher interfaces.EventDispatcher
	log        zerolog.Logger

	mu      sync.RWMutex
	state   State
	conn    *amqp.Connection
	channel *amqp.Channel
	running bool
	stopped bool

	stop chan struct{}
	done chan struct{}
}

// New creates a consumer. Start must be called to begin consuming.
func New(cfg *config.AMQPConfig, dispatcher interfaces.EventDispatcher, log zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "event_consumer").Logger(),
		state:      StateIdle,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the consumption loop in the background. A broker that is
// unreachable at startup is not an error here; the loop keeps retrying.
// The lifecycle is one-shot: a stopped consumer cannot be restarted.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return fmt.Errorf("consumer already stopped")
	}
	if c.running {
		return fmt.Errorf("consumer already running")
	}
	c.running = true

	go c.run(ctx)
	return nil
}

// Stop shuts the loop down and closes the broker connection. Safe to call
// more than once, and before Start.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	wasRunning := c.running
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	if wasRunning {
		<-c.done
	}
}

// Status reports whether the loop is consuming and whether the underlying
// connection is open.
func (c *Consumer) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Consuming: c.state == StateConsuming,
		Connected: c.conn != nil && !c.conn.IsClosed(),
	}
}

// run cycles connect → consume → backoff until stopped.
func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	defer c.teardown()

	for {
		c.setState(StateConnecting)

		deliveries, closed, err := c.initialize()
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("broker connection failed")
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.setState(StateConsuming)
		c.log.Info().Str("queue", c.cfg.Queue).Msg("consuming analysis events")

		if !c.consume(ctx, deliveries, closed) {
			return
		}

		// Connection lost; tear down what remains before reconnecting.
		c.teardown()
		if !c.sleep(ctx) {
			return
		}
	}
}

// initialize dials the broker and declares the full topology. Re-run on
// every reconnect: broker state may have been lost while we were away.
func (c *Consumer) initialize() (<-chan amqp.Delivery, chan *amqp.Error, error) {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := c.declareTopology(channel); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	// Bounded prefetch keeps the in-flight ceiling fixed and distributes
	// messages fairly across consumer instances.
	if err := channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("set prefetch: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.state = StateSubscribed
	c.mu.Unlock()

	deliveries, err := channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		c.teardown()
		return nil, nil, fmt.Errorf("start consume: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return deliveries, closed, nil
}

// declareTopology declares the topic exchange, the dead-letter exchange and
// queue, and the durable notification queue with its three bindings.
func (c *Consumer) declareTopology(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}

	if err := channel.ExchangeDeclare(c.cfg.DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange %s: %w", c.cfg.DeadLetterExchange, err)
	}
	dlq := c.cfg.Queue + ".dead-letter"
	if _, err := channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue %s: %w", dlq, err)
	}
	if err := channel.QueueBind(dlq, c.cfg.DeadLetterRoutingKey, c.cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue %s: %w", dlq, err)
	}

	// Rejected messages route to the DLX instead of requeueing, so a
	// poison message can never loop on the main path.
	args := amqp.Table{
		"x-dead-letter-exchange":    c.cfg.DeadLetterExchange,
		"x-dead-letter-routing-key": c.cfg.DeadLetterRoutingKey,
	}
	if _, err := channel.QueueDeclare(c.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}

	for _, key := range routingKeys {
		if err := channel.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	return nil
}

// consume processes deliveries until the connection drops (returns true) or
// the loop is stopped (returns false).
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery, closed chan *amqp.Error) bool {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				c.log.Warn().Msg("delivery channel closed")
				return true
			}
			c.handleDelivery(d)

		case amqpErr := <-closed:
			if amqpErr != nil {
				c.log.Warn().Str("reason", amqpErr.Reason).Msg("broker connection lost")
			}
			return true

		case <-c.stop:
			return false

		case <-ctx.Done():
			return false
		}
	}
}

// handleDelivery decodes and dispatches one message. Success acks; any
// decode or handling failure rejects without requeue, which routes the
// message to the dead-letter exchange. Nothing is silently dropped.
func (c *Consumer) handleDelivery(d amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("routing_key", d.RoutingKey).Msg("handler panicked; dead-lettering message")
			_ = d.Reject(false)
		}
	}()

	env, err := event.Decode(d.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("undecodable message; dead-lettering")
		_ = d.Reject(false)
		return
	}

	kind, err := env.Kind()
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", env.UserID).Str("job_id", env.JobID).Msg("unroutable event; dead-lettering")
		_ = d.Reject(false)
		return
	}

	notification := env.Notification(kind)
	delivered := c.dispatcher.Deliver(env.UserID, notification.EventName(), notification.Payload())

	c.log.Debug().
		Str("user_id", env.UserID).
		Str("job_id", env.JobID).
		Str("kind", kind.String()).
		Bool("delivered", delivered).
		Msg("event processed")

	// Delivery to an offline user is still successful processing; the
	// design is at-most-once per connected device.
	if err := d.Ack(false); err != nil {
		c.log.Warn().Err(err).Msg("ack failed")
	}
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// sleep waits out the reconnect delay. Returns false when stopped.
func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-time.After(c.cfg.ReconnectDelay):
		return true
	case <-c.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
}
