package provider

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/mr-tron/base58"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/solana"
)

// testMint is a valid 32-byte base58 pubkey.
var testMint = base58.Encode(make([]byte, 32))

// fakeRPC serves canned account data keyed by address.
type fakeRPC struct {
	accounts map[string]*solana.AccountInfo
	err      error
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[pubkey], nil
}

func (f *fakeRPC) GetSlot(context.Context) (int64, error) { return 0, nil }

type fixedSolPrice struct {
	usd float64
	err error
}

func (f fixedSolPrice) SolanaUSD(context.Context) (float64, error) { return f.usd, f.err }

// curveAccount builds a bonding curve account payload.
func curveAccount(vTok, vSol uint64, complete bool) string {
	data := make([]byte, 49)
	binary.LittleEndian.PutUint64(data[8:16], vTok)
	binary.LittleEndian.PutUint64(data[16:24], vSol)
	if complete {
		data[48] = 1
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestBondingCurveAddress_Deterministic(t *testing.T) {
	addr1, err := BondingCurveAddress(testMint)
	if err != nil {
		t.Fatalf("BondingCurveAddress: %v", err)
	}
	addr2, err := BondingCurveAddress(testMint)
	if err != nil {
		t.Fatalf("BondingCurveAddress: %v", err)
	}
	if addr1 != addr2 {
		t.Errorf("derivation not deterministic: %s vs %s", addr1, addr2)
	}

	decoded, err := base58.Decode(addr1)
	if err != nil {
		t.Fatalf("derived address is not base58: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("derived address is %d bytes, expected 32", len(decoded))
	}
}

func TestBondingCurveAddress_RejectsBadMint(t *testing.T) {
	if _, err := BondingCurveAddress("short"); err == nil {
		t.Error("expected error for non-32-byte mint")
	}
	if _, err := BondingCurveAddress("not!base58!!"); err == nil {
		t.Error("expected error for invalid base58")
	}
}

func TestPumpFunAdapter_DerivesPrice(t *testing.T) {
	curveAddr, err := BondingCurveAddress(testMint)
	if err != nil {
		t.Fatalf("BondingCurveAddress: %v", err)
	}

	// 1000 SOL of virtual quote against 10M tokens of virtual base.
	vSol := uint64(1000 * 1e9)
	vTok := uint64(10_000_000 * 1e6)
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		curveAddr: {
			Owner: PumpFunProgramID,
			Data:  curveAccount(vTok, vSol, false),
		},
	}}

	adapter := NewPumpFunAdapter(rpc, fixedSolPrice{usd: 150}, nil)
	results, err := adapter.FetchPrices(context.Background(), []string{testMint})
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}

	rec := results[testMint]
	if rec == nil {
		t.Fatal("expected a price record")
	}

	wantSOL := 1000.0 / 10_000_000.0
	if rec.NativePrice != wantSOL {
		t.Errorf("expected native price %v, got %v", wantSOL, rec.NativePrice)
	}
	if rec.USDPrice != wantSOL*150 {
		t.Errorf("expected usd price %v, got %v", wantSOL*150, rec.USDPrice)
	}
	if rec.Source != domain.SourcePumpFun {
		t.Errorf("expected source %s, got %s", domain.SourcePumpFun, rec.Source)
	}
	if rec.Decimals != 6 {
		t.Errorf("expected 6 decimals, got %d", rec.Decimals)
	}
}

func TestPumpFunAdapter_CompleteCurveHasNoData(t *testing.T) {
	curveAddr, _ := BondingCurveAddress(testMint)
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		curveAddr: {
			Owner: PumpFunProgramID,
			Data:  curveAccount(1e12, 1e12, true),
		},
	}}

	adapter := NewPumpFunAdapter(rpc, fixedSolPrice{usd: 150}, nil)
	results, err := adapter.FetchPrices(context.Background(), []string{testMint})
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData for migrated curve, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestPumpFunAdapter_MissingAccount(t *testing.T) {
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{}}
	adapter := NewPumpFunAdapter(rpc, fixedSolPrice{usd: 150}, nil)

	_, err := adapter.FetchPrices(context.Background(), []string{testMint})
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData for missing account, got %v", err)
	}
}

func TestPumpFunAdapter_WrongOwnerRejected(t *testing.T) {
	curveAddr, _ := BondingCurveAddress(testMint)
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		curveAddr: {
			Owner: "SomeOtherProgram1111111111111111111111111111",
			Data:  curveAccount(1e12, 1e12, false),
		},
	}}

	adapter := NewPumpFunAdapter(rpc, fixedSolPrice{usd: 150}, nil)
	_, err := adapter.FetchPrices(context.Background(), []string{testMint})
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload for foreign owner, got %v", err)
	}
}

func TestPumpFunAdapter_ShortAccountRejected(t *testing.T) {
	curveAddr, _ := BondingCurveAddress(testMint)
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		curveAddr: {
			Owner: PumpFunProgramID,
			Data:  base64.StdEncoding.EncodeToString(make([]byte, 20)),
		},
	}}

	adapter := NewPumpFunAdapter(rpc, fixedSolPrice{usd: 150}, nil)
	_, err := adapter.FetchPrices(context.Background(), []string{testMint})
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload for short account, got %v", err)
	}
}

func TestPumpFunAdapter_NoSolReference(t *testing.T) {
	adapter := NewPumpFunAdapter(&fakeRPC{}, fixedSolPrice{err: fmt.Errorf("no quote")}, nil)
	_, err := adapter.FetchPrices(context.Background(), []string{testMint})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable without SOL reference, got %v", err)
	}
}
