package provider

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/solana"
)

// PumpFunProgramID is the pump.fun program ID (mainnet).
const PumpFunProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Bonding curve account layout (after the 8-byte discriminator):
//   virtual_token_reserves u64 at offset 8
//   virtual_sol_reserves   u64 at offset 16
//   real_token_reserves    u64 at offset 24
//   real_sol_reserves      u64 at offset 32
//   token_total_supply     u64 at offset 40
//   complete               bool at offset 48
const (
	curveMinLen            = 49
	offVirtualTokenReserve = 8
	offVirtualSolReserve   = 16
	offComplete            = 48

	lamportsPerSOL   = 1e9
	pumpTokenDecimals = 6
)

// NativePriceSource supplies the SOL/USD reference price the bonding-curve
// derivation depends on. It must be satisfiable before this adapter runs
// (declared one-directional dependency on the quote adapter or cache).
type NativePriceSource interface {
	SolanaUSD(ctx context.Context) (float64, error)
}

// PumpFunAdapter derives token prices from on-chain bonding-curve reserve
// ratios instead of an HTTP quote API.
type PumpFunAdapter struct {
	rpc       solana.RPCClient
	solSource NativePriceSource
	logger    *zap.Logger
	now       func() time.Time
}

// NewPumpFunAdapter creates a bonding-curve adapter over the chain reader.
func NewPumpFunAdapter(rpc solana.RPCClient, solSource NativePriceSource, logger *zap.Logger) *PumpFunAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PumpFunAdapter{
		rpc:       rpc,
		solSource: solSource,
		logger:    logger,
		now:       time.Now,
	}
}

// Compile-time interface check.
var _ Adapter = (*PumpFunAdapter)(nil)

// Name identifies the adapter.
func (a *PumpFunAdapter) Name() domain.PriceSource { return domain.SourcePumpFun }

// SupportsBatch reports batch support; curve accounts are read per mint.
func (a *PumpFunAdapter) SupportsBatch() bool { return false }

// FetchPrices derives prices for the given mints from their bonding
// curves. Mints whose curve is missing, migrated, or unreadable are
// omitted; partial results are returned with a nil error.
func (a *PumpFunAdapter) FetchPrices(ctx context.Context, mints []string) (map[string]*domain.PriceRecord, error) {
	if len(mints) == 0 {
		return map[string]*domain.PriceRecord{}, nil
	}

	solUSD, err := a.solSource.SolanaUSD(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: no SOL/USD reference price: %v", ErrUnavailable, err)
	}

	results := make(map[string]*domain.PriceRecord)
	var lastErr error
	for _, mint := range mints {
		rec, err := a.fetchOne(ctx, mint, solUSD)
		if err != nil {
			lastErr = err
			a.logger.Debug("bonding curve derivation failed",
				zap.String("mint", mint),
				zap.Error(err))
			continue
		}
		results[mint] = rec
	}

	if len(results) == 0 && lastErr != nil {
		return results, lastErr
	}
	return results, nil
}

// fetchOne reads and prices one bonding curve account.
func (a *PumpFunAdapter) fetchOne(ctx context.Context, mint string, solUSD float64) (*domain.PriceRecord, error) {
	curveAddr, err := BondingCurveAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("%w: derive curve address: %v", ErrBadPayload, err)
	}

	info, err := a.rpc.GetAccountInfo(ctx, curveAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if info == nil {
		return nil, ErrNoData
	}
	if info.Owner != PumpFunProgramID {
		return nil, fmt.Errorf("%w: curve account owned by %s", ErrBadPayload, info.Owner)
	}

	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode account data: %v", ErrBadPayload, err)
	}
	if len(data) < curveMinLen {
		return nil, fmt.Errorf("%w: curve account too short (%d bytes)", ErrBadPayload, len(data))
	}

	// A complete curve has migrated to an AMM; its reserves are frozen and
	// no longer reflect price.
	if data[offComplete] != 0 {
		return nil, ErrNoData
	}

	virtualTokens := binary.LittleEndian.Uint64(data[offVirtualTokenReserve : offVirtualTokenReserve+8])
	virtualSol := binary.LittleEndian.Uint64(data[offVirtualSolReserve : offVirtualSolReserve+8])
	if virtualTokens == 0 || virtualSol == 0 {
		return nil, fmt.Errorf("%w: zero virtual reserves", ErrBadPayload)
	}

	// price in SOL = virtual quote reserve / virtual base reserve,
	// decimal-adjusted (lamports vs 6-decimal token units)
	priceSOL := (float64(virtualSol) / lamportsPerSOL) / (float64(virtualTokens) / 1e6)

	return &domain.PriceRecord{
		Mint:         mint,
		USDPrice:     priceSOL * solUSD,
		NativePrice:  priceSOL,
		Source:       domain.SourcePumpFun,
		ObservedAtMs: a.now().UnixMilli(),
		Decimals:     pumpTokenDecimals,
	}, nil
}

// BondingCurveAddress derives the pump.fun bonding curve PDA for a mint:
// seeds ["bonding-curve", mint] under the pump.fun program.
func BondingCurveAddress(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint: %w", err)
	}
	if len(mintBytes) != 32 {
		return "", fmt.Errorf("mint is not a 32-byte pubkey")
	}
	programBytes, err := base58.Decode(PumpFunProgramID)
	if err != nil {
		return "", fmt.Errorf("decode program id: %w", err)
	}

	addr := derivePDA([][]byte{[]byte("bonding-curve"), mintBytes}, programBytes)
	if addr == "" {
		return "", fmt.Errorf("no valid bump seed for mint")
	}
	return addr, nil
}

// derivePDA derives a Program Derived Address using the Solana algorithm:
// hash seeds+bump+program+"ProgramDerivedAddress" and take the first bump
// whose hash is off the ed25519 curve.
func derivePDA(seeds [][]byte, programID []byte) string {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}

	return ""
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
