package hookbus

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// RabbitTransport is the AsyncTransport backing ModeAsync dispatch,
// grounded on common/mrabbitmq.RabbitMQConnection's singleton-channel
// hub: one connection, one channel, lazily dialed and cached, guarded by
// a mutex since amqp091-go channels are not safe for concurrent
// publishers.
type RabbitTransport struct {
	url      string
	exchange string
	logger   mlog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitTransport(url, exchange string, logger mlog.Logger) *RabbitTransport {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	return &RabbitTransport{url: url, exchange: exchange, logger: logger}
}

func (t *RabbitTransport) channel() (*amqp.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch != nil {
		return t.ch, nil
	}

	conn, err := amqp.Dial(t.url)
	if err != nil {
		return nil, cerrors.Transient("dialing rabbitmq", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, cerrors.Transient("opening rabbitmq channel", err)
	}

	if err := ch.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()

		return nil, cerrors.Transient("declaring hook exchange", err)
	}

	t.conn = conn
	t.ch = ch
	t.logger.Infof("hookbus: connected to rabbitmq exchange %q", t.exchange)

	return ch, nil
}

// Publish sends event as a persistent message keyed on the event name,
// so consumers can bind queues with routing patterns like "record.*".
func (t *RabbitTransport) Publish(ctx context.Context, event Event, payload Payload) error {
	ch, err := t.channel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return cerrors.Validation("HookPayload", "invalid_payload", err.Error())
	}

	err = ch.PublishWithContext(ctx, t.exchange, string(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(event),
		Body:         body,
	})
	if err != nil {
		return cerrors.Transient("publishing hook event", err)
	}

	return nil
}

// Close releases the channel and connection, if opened.
func (t *RabbitTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch != nil {
		t.ch.Close()
	}

	if t.conn != nil {
		return t.conn.Close()
	}

	return nil
}
