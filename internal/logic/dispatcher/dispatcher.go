package dispatcher

import (
	"context"

	"txfeed-sol/internal/config"
	"txfeed-sol/internal/logic/decoder"
	"txfeed-sol/internal/logic/domain"
	"txfeed-sol/internal/logic/feed"
	"txfeed-sol/internal/mq"
	"txfeed-sol/internal/queue"
	"txfeed-sol/pkg/logger"
)

// 单次循环最多攒多少条记录再批量旁路到 Kafka
const maxDrainBatch = 64

// chainPipeline 每条链独立的解码配置（查找表解析端点可能不同）
type chainPipeline struct {
	decoder *decoder.Decoder
	resolve bool
}

// Dispatcher 消费订阅侧产出的原始记录，解码后分发：
// - 规范化交易按角色写入 Redis 队列（主链路）
// - 原始帧与规范化交易旁路写入 Kafka（分析链路，可缺省）
type Dispatcher struct {
	records  <-chan *feed.RawRecord
	chains   map[string]*chainPipeline // key: listenerID
	producer *queue.Producer
	roles    []string
	firehose *mq.Firehose // 可为 nil

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(
	chains []config.ChainConfig,
	roles []string,
	producer *queue.Producer,
	firehose *mq.Firehose,
	records <-chan *feed.RawRecord,
) *Dispatcher {
	pipelines := make(map[string]*chainPipeline, len(chains))
	for _, c := range chains {
		var resolver decoder.TableResolver
		if c.ResolveLookupTables && c.RpcEndpoint != "" {
			resolver = decoder.NewRpcTableResolver(c.RpcEndpoint)
		}
		pipelines[c.ListenerID] = &chainPipeline{
			decoder: decoder.NewDecoder(resolver),
			resolve: c.ResolveLookupTables,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		records:  records,
		chains:   pipelines,
		producer: producer,
		roles:    roles,
		firehose: firehose,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	defer close(d.done)
	logger.Infof("dispatcher started, fanout roles: %v", d.roles)

	for {
		select {
		case <-d.ctx.Done():
			return
		case rec, ok := <-d.records:
			if !ok {
				return
			}
			d.handleBatch(d.drain(rec))
		}
	}
}

func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done
	if d.firehose != nil {
		d.firehose.Close()
	}
	logger.Infof("dispatcher stopped")
}

// drain 以 rec 为首攒一小批当前可取的记录，减少 Kafka 发送次数
func (d *Dispatcher) drain(rec *feed.RawRecord) []*feed.RawRecord {
	batch := []*feed.RawRecord{rec}
	for len(batch) < maxDrainBatch {
		select {
		case next, ok := <-d.records:
			if !ok {
				return batch
			}
			batch = append(batch, next)
		default:
			return batch
		}
	}
	return batch
}

func (d *Dispatcher) handleBatch(recs []*feed.RawRecord) {
	decoded := make([]*domain.CanonicalTransaction, 0, len(recs))
	for _, rec := range recs {
		pipe := d.chains[rec.ListenerID]
		if pipe == nil {
			logger.Warnf("dispatcher: no pipeline for listener %s, dropping record", rec.ListenerID)
			continue
		}
		tx := pipe.decoder.Decode(d.ctx, rec, pipe.resolve)
		if tx == nil {
			// 解码失败的记录丢弃，Decode 内部已记日志
			continue
		}
		decoded = append(decoded, tx)
	}

	for _, tx := range decoded {
		env, err := queue.NewEnvelope(queue.KindDecodedTx, queue.DecodedTxPayload{Tx: tx})
		if err != nil {
			logger.Errorf("dispatcher: build envelope for %s failed: %v", tx.Signature(), err)
			continue
		}
		for _, role := range d.roles {
			if err := d.producer.Push(d.ctx, role, env); err != nil {
				logger.Errorf("dispatcher: push %s to role %s failed: %v", tx.Signature(), role, err)
			}
		}
	}

	if d.firehose != nil {
		d.firehose.PublishRaw(d.ctx, recs)
		d.firehose.PublishDecoded(d.ctx, decoded)
	}
}
