package consts

import "runtime"

// 链标识（配置与队列消息中使用的字符串 ID）
const (
	ChainIDSolanaMainnet = "solana-mainnet"
	ChainIDSolanaDevnet  = "solana-devnet"
)

// CpuCount 表示逻辑 CPU 核心数，用于控制并发任务调度上限
var CpuCount = runtime.NumCPU()
