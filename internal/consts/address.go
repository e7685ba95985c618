package consts

import "txfeed-sol/internal/types"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	SystemProgramStr          = "11111111111111111111111111111111"
	TokenProgramStr           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	TokenProgram2022Str       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramStr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramStr   = "ComputeBudget111111111111111111111111111111"

	// Address Lookup Table 程序（查找表账户的 owner）
	AddressLookupTableProgramStr = "AddressLookupTab1e1111111111111111111111111"

	WSOLMintStr = "So11111111111111111111111111111111111111112"
	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMintStr = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

var (
	// NativeSOLMint 原生 SOL（非 SPL），全 0 地址作特殊语义
	NativeSOLMint = types.Pubkey{}

	SystemProgram          = types.PubkeyFromBase58(SystemProgramStr)
	TokenProgram           = types.PubkeyFromBase58(TokenProgramStr)
	TokenProgram2022       = types.PubkeyFromBase58(TokenProgram2022Str)
	AssociatedTokenProgram = types.PubkeyFromBase58(AssociatedTokenProgramStr)

	WSOLMint = types.PubkeyFromBase58(WSOLMintStr)
	USDCMint = types.PubkeyFromBase58(USDCMintStr)
	USDTMint = types.PubkeyFromBase58(USDTMintStr)
)

// IsSPLTokenProgram 判断 programId（base58 字符串）是否为标准 SPL Token 程序。
func IsSPLTokenProgram(programID string) bool {
	return programID == TokenProgramStr || programID == TokenProgram2022Str
}
