package mq

import (
	"context"
	"fmt"

	"riplimit/internal/config"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer 账本事件的 Kafka 同步生产者
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer 按配置创建生产者
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner // 同一 key 进同一分区

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Printf("[Kafka] 生产者创建成功: brokers=%v", cfg.Brokers)
	return &Producer{producer: producer}, nil
}

// NewProducerWith 包装已有的 SyncProducer
func NewProducerWith(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Publish 同步发送一条消息
func (p *Producer) Publish(ctx context.Context, topic, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	log.WithFields(log.Fields{"topic": topic, "partition": partition, "offset": offset}).Debug("[Kafka] 消息已发送")
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
