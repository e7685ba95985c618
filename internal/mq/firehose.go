package mq

import (
	"context"
	"time"

	"txfeed-sol/internal/config"
	"txfeed-sol/internal/logic/domain"
	"txfeed-sol/internal/logic/feed"
	"txfeed-sol/internal/utils"
	"txfeed-sol/pkg/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const defaultSendTimeout = 10 * time.Second

// Firehose 把原始记录与规范化交易旁路写入 Kafka，供离线分析消费。
// 投递失败只记日志不重试，主链路（Redis 队列）不受影响。
type Firehose struct {
	producer    *kafka.Producer
	cfg         config.KafkaProducerConfig
	sendTimeout time.Duration
}

func NewFirehose(cfg config.KafkaProducerConfig) (*Firehose, error) {
	producer, err := NewKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}

	sendTimeout := defaultSendTimeout
	if cfg.SendTimeoutMs > 0 {
		sendTimeout = time.Duration(cfg.SendTimeoutMs) * time.Millisecond
	}

	return &Firehose{
		producer:    producer,
		cfg:         cfg,
		sendTimeout: sendTimeout,
	}, nil
}

// PublishRaw 发送一批未解码的记录帧，按首个签名做分区散列。
func (f *Firehose) PublishRaw(ctx context.Context, recs []*feed.RawRecord) {
	if f.cfg.Topics.Raw == "" || len(recs) == 0 {
		return
	}

	jobs := make([]*KafkaJob, 0, len(recs))
	for _, rec := range recs {
		value, err := utils.EncodeFrame(utils.FrameKindRawRecord, rec)
		if err != nil {
			logger.Errorf("firehose: encode raw record failed: %v", err)
			continue
		}
		var partKey []byte
		if rec.Tx != nil && len(rec.Tx.Signatures) > 0 {
			partKey = rec.Tx.Signatures[0]
		}
		jobs = append(jobs, &KafkaJob{
			Topic:     f.cfg.Topics.Raw,
			Partition: int32(utils.PartitionHashBytes(partKey, uint32(f.cfg.Partitions.Raw))),
			Value:     value,
		})
	}
	f.send(ctx, jobs)
}

// PublishDecoded 发送一批规范化交易。
func (f *Firehose) PublishDecoded(ctx context.Context, txs []*domain.CanonicalTransaction) {
	if f.cfg.Topics.Decoded == "" || len(txs) == 0 {
		return
	}

	jobs := make([]*KafkaJob, 0, len(txs))
	for _, tx := range txs {
		value, err := utils.EncodeFrame(utils.FrameKindDecodedTx, tx)
		if err != nil {
			logger.Errorf("firehose: encode decoded tx failed: %v", err)
			continue
		}
		jobs = append(jobs, &KafkaJob{
			Topic:     f.cfg.Topics.Decoded,
			Partition: int32(utils.PartitionHashBytes([]byte(tx.Signature()), uint32(f.cfg.Partitions.Decoded))),
			Value:     value,
		})
	}
	f.send(ctx, jobs)
}

func (f *Firehose) send(ctx context.Context, jobs []*KafkaJob) {
	if len(jobs) == 0 {
		return
	}
	_, failed := SendKafkaJobs(ctx, f.producer, jobs, f.sendTimeout)
	for _, res := range failed {
		logger.Errorf("firehose: send to topic %s failed: %v", res.Job.Topic, res.Err)
	}
}

// Close 冲刷未发送完的消息并关闭生产者。
func (f *Firehose) Close() {
	remaining := f.producer.Flush(int(f.sendTimeout / time.Millisecond))
	if remaining > 0 {
		logger.Warnf("firehose: %d messages still unflushed at close", remaining)
	}
	f.producer.Close()
}
