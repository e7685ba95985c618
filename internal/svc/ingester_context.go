package svc

import (
	"fmt"
	"time"

	"txfeed-sol/internal/alert"
	"txfeed-sol/internal/cache"
	"txfeed-sol/internal/config"
	"txfeed-sol/internal/logic/dispatcher"
	"txfeed-sol/internal/logic/feed"
	"txfeed-sol/internal/mq"
	"txfeed-sol/internal/queue"
	"txfeed-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/service"
)

const defaultRecordChanSize = 1024

// IngesterContext 摄取进程的全部资源：feed 服务、解码分发、Kafka 旁路。
// 单进程构造一次，按引用传递。
type IngesterContext struct {
	Config config.IngesterConfig
	Redis  *redis.Client

	Services []service.Service // feed(s) + dispatcher，按序启动

	firehose *mq.Firehose
	records  chan *feed.RawRecord
}

func NewIngesterContext(c config.IngesterConfig) (*IngesterContext, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisConf.Addr,
		Password: c.RedisConf.Password,
		DB:       c.RedisConf.DB,
	})

	retention := 10 * time.Minute
	if c.DedupConf.RetentionS > 0 {
		retention = time.Duration(c.DedupConf.RetentionS) * time.Second
	}
	dedup := cache.NewDedupCache(retention, c.DedupConf.MaxEntries)

	chanSize := c.RecordChanSize
	if chanSize <= 0 {
		chanSize = defaultRecordChanSize
	}
	records := make(chan *feed.RawRecord, chanSize)

	alerter := alert.Alerter(alert.LogAlerter{})
	if c.RedisConf.Addr != "" {
		alerter = alert.NewRedisAlerter(rdb)
	}

	// Kafka 旁路可缺省：未配置 broker 时只走 Redis 主链路
	var firehose *mq.Firehose
	if c.KafkaProducerConf.Brokers != "" {
		fh, err := mq.NewFirehose(c.KafkaProducerConf)
		if err != nil {
			return nil, fmt.Errorf("init kafka firehose: %w", err)
		}
		firehose = fh
	}

	var services []service.Service
	for _, chain := range c.Chains {
		switch chain.Mode {
		case "grpc":
			stream, err := feed.NewGrpcStream(chain, dedup, alerter, records)
			if err != nil {
				return nil, fmt.Errorf("init grpc stream for %s: %w", chain.ListenerID, err)
			}
			services = append(services, stream)
		case "poll":
			source := feed.NewRpcSource(chain.Poll.Endpoint)
			services = append(services, feed.NewPoller(chain, source, dedup, records))
		default:
			return nil, fmt.Errorf("chain %s: unknown feed mode %q", chain.ListenerID, chain.Mode)
		}
	}

	disp := dispatcher.NewDispatcher(c.Chains, c.FanoutRoles, queue.NewProducer(rdb), firehose, records)
	services = append(services, disp)

	logger.Infof("ingester context ready: %d chain feed(s), fanout roles %v", len(c.Chains), c.FanoutRoles)
	return &IngesterContext{
		Config:   c,
		Redis:    rdb,
		Services: services,
		firehose: firehose,
		records:  records,
	}, nil
}

// Close 释放上下文资源。firehose 随 dispatcher.Stop 关闭。
func (sc *IngesterContext) Close() {
	if sc.Redis != nil {
		_ = sc.Redis.Close()
	}
}
