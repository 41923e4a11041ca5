package lib

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

var (
	producerMu sync.Mutex
	producer   *kafka.Producer
)

func GetKafkaProducerConfig(clientId string) kafka.ConfigMap {
	return kafka.ConfigMap{
		"bootstrap.servers": os.Getenv("KAFKA_BROKER"),
		"client.id":         clientId,
		"acks":              "all",
	}
}

func getKafkaProducer(clientId string) (*kafka.Producer, error) {
	producerMu.Lock()
	defer producerMu.Unlock()
	if producer != nil {
		return producer, nil
	}
	cfg := GetKafkaProducerConfig(clientId)
	p, err := kafka.NewProducer(&cfg)
	if err != nil {
		log.Printf("Error on producer: %s\n", err.Error())
		return nil, err
	}
	go func() {
		for e := range p.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				log.Printf("[Kafka] Delivery failed: %s\n", m.TopicPartition.Error.Error())
			}
		}
	}()
	producer = p
	return p, nil
}

// KafkaProduceMessage publishes payload as JSON. key selects the partition so
// events for one checkout stay ordered.
func KafkaProduceMessage(clientId string, topic string, key string, payload any) error {
	p, err := getKafkaProducer(clientId)
	if err != nil {
		return err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil)
}

// KafkaClose flushes pending deliveries.
func KafkaClose() {
	producerMu.Lock()
	defer producerMu.Unlock()
	if producer == nil {
		return
	}
	producer.Flush(5000)
	producer.Close()
	producer = nil
}
