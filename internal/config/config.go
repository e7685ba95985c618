package config

import (
	"fmt"

	"txfeed-sol/pkg/logger"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RedisConfig 共享存储配置（队列、tier 快照、广播通道都走这一个实例）
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FeedFilterConfig 表示推送模式下的一条命名订阅过滤器。
// failed / vote 固定为排除（上游只投递成功的非投票交易）。
type FeedFilterConfig struct {
	Label           string   `yaml:"label"`            // 过滤器标签，响应帧按它分流
	AccountInclude  []string `yaml:"account_include"`  // 任一账户出现即命中
	AccountExclude  []string `yaml:"account_exclude"`  // 出现即排除
	AccountRequired []string `yaml:"account_required"` // 全部出现才命中
}

// GrpcFeedConfig gRPC 推送模式的连接参数
type GrpcFeedConfig struct {
	Endpoint string `yaml:"endpoint"` // gRPC 服务端地址
	XToken   string `yaml:"x_token"`  // x-token 认证

	StreamPingIntervalSec int `yaml:"stream_ping_interval_sec"` // 应用层 ping 心跳间隔（秒），默认 30

	KeepalivePingIntervalSec int `yaml:"keepalive_ping_interval_sec"` // 底层 keepalive 间隔（秒）
	KeepalivePingTimeoutSec  int `yaml:"keepalive_ping_timeout_sec"`  // 底层 keepalive 超时（秒）

	InitialWindowSize     int `yaml:"initial_window_size"`      // 单流窗口大小（字节）
	InitialConnWindowSize int `yaml:"initial_conn_window_size"` // 整体连接窗口大小（字节）

	MaxCallSendMsgSize int `yaml:"max_call_send_msg_size"` // 单条消息最大发送字节数
	MaxCallRecvMsgSize int `yaml:"max_call_recv_msg_size"` // 单条消息最大接收字节数

	ReconnectIntervalSec int `yaml:"reconnect_interval_sec"` // 断开后的固定重连间隔（秒），默认 5
	ConnectTimeoutSec    int `yaml:"connect_timeout_sec"`    // 连接建立超时（秒）
	SendTimeoutSec       int `yaml:"send_timeout_sec"`       // 发送超时（秒）
}

// PollFeedConfig 轮询模式的抓取参数（无订阅能力的上游）
type PollFeedConfig struct {
	Endpoint     string   `yaml:"endpoint"`       // JSON-RPC 地址
	IntervalMs   int      `yaml:"interval_ms"`    // 轮询间隔（毫秒），默认 1000
	BatchLimit   int      `yaml:"batch_limit"`    // 每个地址单次抓取的签名上限，默认 256
	Addresses    []string `yaml:"addresses"`      // 高频活跃地址列表
	FetchWorkers int      `yaml:"fetch_workers"`  // 全量交易拉取并发数，默认 4
	DedupWindowS int      `yaml:"dedup_window_s"` // 判重保留窗口（秒），默认 600
}

// ChainConfig 单条上游链的接入配置
type ChainConfig struct {
	ChainID    string `yaml:"chain_id"`
	ListenerID string `yaml:"listener_id"`
	Mode       string `yaml:"mode"`       // "grpc"（推送） 或 "poll"（轮询）
	Commitment string `yaml:"commitment"` // processed / confirmed / finalized

	Grpc    GrpcFeedConfig     `yaml:"grpc"`
	Poll    PollFeedConfig     `yaml:"poll"`
	Filters []FeedFilterConfig `yaml:"filters"`

	// 解码时是否通过 RPC 解析 Address Lookup Table（meta 自带 loaded 地址时不发起请求）
	ResolveLookupTables bool   `yaml:"resolve_lookup_tables"`
	RpcEndpoint         string `yaml:"rpc_endpoint"` // 查找表解析用的 JSON-RPC 地址
}

// KafkaProducerConfig Kafka 生产者相关配置（解码流的分析侧旁路）
type KafkaProducerConfig struct {
	Brokers   string `yaml:"brokers"`    // Kafka broker 地址，多个用英文逗号分隔
	BatchSize int    `yaml:"batch_size"` // 批处理大小（单位字节）
	LingerMs  int    `yaml:"linger_ms"`  // 批处理最大延迟（毫秒）

	Topics struct {
		Raw     string `yaml:"raw"`     // 原始记录帧的 topic
		Decoded string `yaml:"decoded"` // 规范化交易的 topic
	} `yaml:"topics"`

	Partitions struct {
		Raw     int `yaml:"raw"`
		Decoded int `yaml:"decoded"`
	} `yaml:"partitions"`

	SendTimeoutMs int `yaml:"send_timeout_ms"` // 单条消息发送并等待 ack 的超时
}

// DedupConfig 判重缓存参数
type DedupConfig struct {
	RetentionS int `yaml:"retention_s"` // 保留窗口（秒），默认 600
	MaxEntries int `yaml:"max_entries"` // 容量上限，默认 100000
}

// TierLimitConfig 单个付费档位的三级阈值
type TierLimitConfig struct {
	Minute int `yaml:"minute"`
	Hour   int `yaml:"hour"`
	Day    int `yaml:"day"`
}

// RateLimitConfig 通知限流配置
type RateLimitConfig struct {
	Tiers              map[string]TierLimitConfig `yaml:"tiers"`                // 档位名 → 阈值
	DefaultTier        string                     `yaml:"default_tier"`         // 快照缺失时的兜底档位
	SnapshotRefreshSec int                        `yaml:"snapshot_refresh_sec"` // tier 快照刷新间隔（秒）
}

// IngesterConfig 驱动 cmd/ingester：订阅 → 解码 → 分发
type IngesterConfig struct {
	LogConf           LogConfig           `yaml:"logger"`
	RedisConf         RedisConfig         `yaml:"redis"`
	KafkaProducerConf KafkaProducerConfig `yaml:"kafka_producer"`
	DedupConf         DedupConfig         `yaml:"dedup"`

	Chains         []ChainConfig `yaml:"chains"`
	FanoutRoles    []string      `yaml:"fanout_roles"`     // 解码结果投递到的队列角色列表
	RecordChanSize int           `yaml:"record_chan_size"` // feed → 解码的通道容量，默认 1024
}

// TrackerConfig 钱包跟踪处理器配置
type TrackerConfig struct {
	RegistryRefreshSec int      `yaml:"registry_refresh_sec"` // 钱包登记快照刷新间隔（秒）
	ExemptUsers        []string `yaml:"exempt_users"`         // 内部/试运行账号，限流放行
}

// WorkerConfig 驱动 cmd/worker：单角色队列消费
type WorkerConfig struct {
	LogConf       LogConfig       `yaml:"logger"`
	RedisConf     RedisConfig     `yaml:"redis"`
	DedupConf     DedupConfig     `yaml:"dedup"`
	RateLimitConf RateLimitConfig `yaml:"rate_limit"`
	TrackerConf   TrackerConfig   `yaml:"tracker"`

	Role string `yaml:"role"` // 本进程消费的队列角色
}

// Dump 输出生效配置（启动日志用）
func Dump(c any) string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config marshal error: %v>", err)
	}
	return string(out)
}
