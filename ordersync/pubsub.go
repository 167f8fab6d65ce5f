package ordersync

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
)

// OrderEvent announces the final status of an ingested order.
type OrderEvent struct {
	OrderId    uint      `json:"order_id"`
	BusinessId string    `json:"business_id"`
	NodeId     string    `json:"node_id"`
	Status     string    `json:"status"`
	Created    bool      `json:"created"`
	Source     string    `json:"source,omitempty"`
	At         time.Time `json:"at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

// PubSubPublisher publishes OrderEvents to one Pub/Sub topic, ordered per business id.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(client *pubsub.Client, topicName string) *PubSubPublisher {
	topic := client.Topic(topicName)
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}
}

func (p *PubSubPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: ev.BusinessId,
		Attributes: map[string]string{
			"status":   ev.Status,
			"order_id": strconv.FormatUint(uint64(ev.OrderId), 10),
		},
	})
	_, err = res.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(ev.BusinessId)
	}
	return err
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
