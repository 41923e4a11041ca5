package notify

import (
	"context"
	"encoding/json"
	"tourbook/src/lib"
)

// QueueNotifier publishes every event as JSON to an SQS queue.
type QueueNotifier struct {
	queue   string
	produce func(ctx context.Context, queue, body string) error
}

func NewQueueNotifier(queue string) *QueueNotifier {
	return &QueueNotifier{queue: queue, produce: lib.SQSProduceMessage}
}

func (q *QueueNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.produce(ctx, q.queue, string(body))
}

// KafkaNotifier publishes every event to a topic keyed by checkout, so a
// checkout's events keep their order.
type KafkaNotifier struct {
	clientId string
	topic    string
	produce  func(clientId, topic, key string, payload any) error
}

func NewKafkaNotifier(clientId, topic string) *KafkaNotifier {
	return &KafkaNotifier{clientId: clientId, topic: topic, produce: lib.KafkaProduceMessage}
}

func (k *KafkaNotifier) Notify(_ context.Context, ev Event) error {
	key := ev.CheckoutID
	if key == "" && len(ev.References) > 0 {
		key = ev.References[0]
	}
	return k.produce(k.clientId, k.topic, key, ev)
}
