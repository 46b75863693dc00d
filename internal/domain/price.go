package domain

// PriceSource identifies which provider adapter produced a price record.
type PriceSource string

const (
	// SourceJupiter is the batched Jupiter quote API.
	SourceJupiter PriceSource = "JUPITER"
	// SourcePumpFun is the on-chain pump.fun bonding-curve derivation.
	SourcePumpFun PriceSource = "PUMPFUN"
	// SourceDexScreener is the DexScreener liquidity aggregator API.
	SourceDexScreener PriceSource = "DEXSCREENER"
	// SourceStream is the live websocket price feed.
	SourceStream PriceSource = "STREAM"
)

// WrappedSOLMint is the wrapped SOL mint address, used as the native/USD
// reference asset.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// PriceRecord is a single accepted price observation for a mint.
// Records are immutable; a newer observation supersedes, never mutates.
type PriceRecord struct {
	Mint           string      // token mint address
	USDPrice       float64     // price in USD
	NativePrice    float64     // price in SOL, 0 if the source did not report it
	PriceChange24h float64     // 24h change in percent, 0 if unknown
	Source         PriceSource // adapter that produced the record
	ObservedAtMs   int64       // Unix timestamp in milliseconds
	Decimals       int         // token decimals, 0 if unknown
}

// HasNativePrice reports whether the record carries a SOL-denominated price.
func (r *PriceRecord) HasNativePrice() bool {
	return r.NativePrice > 0
}
