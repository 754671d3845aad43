// Package pub provides the notifier that pushes device events to NATS.
package pub

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/nats-io/go-nats"
	"github.com/satori/go.uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/torantis/torenms/cfg"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store/model"
)

// Event types.
const (
	EventHistoryAppended = "history_appended"
	aggregateDevice      = "device"
)

type (
	// Cfg is used to initialize an instance of Publisher.
	Cfg struct {
		Addr          cfg.Addr
		Topic         string
		Log           log.Logger
		RetryTimeout  time.Duration
		RetryAttempts uint32
	}

	// Publisher publishes history entries on <topic>.<device id>.
	Publisher struct {
		conn  *nats.Conn
		topic string
		log   log.Logger
	}
)

// New connects to NATS, retrying with a jittered pause.
func New(c *Cfg) (*Publisher, error) {
	var (
		conn         *nats.Conn
		err          error
		retryAttempt uint32
	)
	l := c.Log.With("component", "publisher")
	addr := fmt.Sprintf("%s:%d", c.Addr.Host, c.Addr.Port)

	for {
		conn, err = nats.Connect(addr)
		if err != nil && retryAttempt < c.RetryAttempts {
			l.Errorf("New(): nats connectivity status is DISCONNECTED: %s", err)
			retryAttempt++
			time.Sleep(jitter(c.RetryTimeout))
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("Connect(): %s", err)
	}

	return &Publisher{
		conn:  conn,
		topic: c.Topic,
		log:   l,
	}, nil
}

func jitter(retry time.Duration) time.Duration {
	secs := int(retry.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Second*time.Duration(rand.Intn(secs)) + time.Second
}

// Notify publishes the history entry of the device.
func (p *Publisher) Notify(ctx context.Context, deviceID string, e *model.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev, err := Event(deviceID, e)
	if err != nil {
		return err
	}
	b, err := proto.Marshal(ev)
	if err != nil {
		return fmt.Errorf("Marshal(): %s", err)
	}

	if err := p.conn.Publish(Topic(p.topic, deviceID), b); err != nil {
		return fmt.Errorf("Publish(): %s", err)
	}
	p.log.With("func", "Notify", "event", log.EventNotificationSent).
		Infof("history entry [%s] for device with ID [%s]", e.Message, deviceID)
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if err := p.conn.Flush(); err != nil {
		p.log.Errorf("Close(): Flush() failed: %s", err)
	}
	p.conn.Close()
}

// Topic returns the subject the events of the device go to.
func Topic(topic, deviceID string) string {
	return fmt.Sprintf("%s.%s", topic, deviceID)
}

// Event builds the envelope of a history entry.
func Event(deviceID string, e *model.HistoryEntry) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"eventId":       uuid.NewV4().String(),
		"eventType":     EventHistoryAppended,
		"aggregateId":   deviceID,
		"aggregateType": aggregateDevice,
		"eventData": map[string]interface{}{
			"historyId":        e.ID,
			"historyMessage":   e.Message,
			"historyCreatedAt": e.CreatedAt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("NewStruct(): %s", err)
	}
	return s, nil
}
