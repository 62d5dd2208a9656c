package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/automation/pkg/dispatcher"
)

type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// PolicyEvent is the payload tenants see when an automation event is
// rejected or gives up retrying.
type PolicyEvent struct {
	CompanyID int64  `json:"company_id"`
	EventID   int64  `json:"event_id"`
	EventType string `json:"event_type"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	ChannelPolicy = "automation:events:policy"
)

type Bus struct {
	client redis.UniversalClient
	now    func() time.Time
}

var _ dispatcher.Notifier = (*Bus)(nil)

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client, now: time.Now}
}

func NewEvent(eventType string, payload interface{}, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: at.Unix(),
		Data:      data,
	}, nil
}

// Notify publishes a dispatcher notification on the policy channel.
func (b *Bus) Notify(ctx context.Context, n dispatcher.Notification) error {
	event, err := NewEvent(n.Kind, PolicyEvent{
		CompanyID: n.CompanyID,
		EventID:   n.EventID,
		EventType: n.EventType,
		Code:      n.Code,
		Message:   n.Message,
	}, b.now())
	if err != nil {
		return err
	}
	return b.Publish(ctx, ChannelPolicy, event)
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			ch <- &event
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
