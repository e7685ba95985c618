package mq

import (
	"context"
	"fmt"
	"time"

	"txfeed-sol/internal/config"
	"txfeed-sol/internal/utils"
	"txfeed-sol/pkg/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	defaultBatchSize = 32 * 1024
	defaultLingerMs  = 5
)

// NewKafkaProducer 创建解码流旁路的 Kafka 生产者，启动时确保 topic 存在。
func NewKafkaProducer(cfg config.KafkaProducerConfig) (*kafka.Producer, error) {
	// 创建管理员客户端来管理 topic
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, err := adminClient.GetMetadata(nil, true, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	brokerCount := len(meta.Brokers)

	replicationFactor := 1
	if brokerCount > 1 {
		replicationFactor = 2
	}
	logger.Infof("Kafka broker count = %d, using replication factor = %d", brokerCount, replicationFactor)

	existingTopics := make(map[string]bool)
	for _, topic := range meta.Topics {
		existingTopics[topic.Topic] = true
	}

	// 缺失的 topic 加入创建列表
	var topicsToCreate []kafka.TopicSpecification
	if cfg.Topics.Raw != "" && !existingTopics[cfg.Topics.Raw] {
		topicsToCreate = append(topicsToCreate, kafka.TopicSpecification{
			Topic:             cfg.Topics.Raw,
			NumPartitions:     cfg.Partitions.Raw,
			ReplicationFactor: replicationFactor,
		})
	}
	if cfg.Topics.Decoded != "" && !existingTopics[cfg.Topics.Decoded] {
		topicsToCreate = append(topicsToCreate, kafka.TopicSpecification{
			Topic:             cfg.Topics.Decoded,
			NumPartitions:     cfg.Partitions.Decoded,
			ReplicationFactor: replicationFactor,
		})
	}

	if len(topicsToCreate) > 0 {
		results, err := adminClient.CreateTopics(ctx, topicsToCreate)
		if err != nil {
			return nil, fmt.Errorf("failed to create topics: %w", err)
		}
		for _, result := range results {
			if result.Error.Code() != kafka.ErrNoError {
				return nil, fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
			}
		}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := cfg.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		// 基础连接
		"bootstrap.servers": cfg.Brokers,
		"client.id":         fmt.Sprintf("txfeed-sol-%s", utils.GetLocalIP()),

		// 可靠性保障
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5,

		// 超时与重试
		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		// 性能优化
		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "none",

		// 消息大小
		"message.max.bytes": 2 * 1024 * 1024, // 2MB
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return producer, nil
}
