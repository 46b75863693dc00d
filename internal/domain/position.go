package domain

// PositionStatus is the lifecycle state of a collateralized position.
type PositionStatus string

const (
	PositionActive     PositionStatus = "ACTIVE"
	PositionRepaid     PositionStatus = "REPAID"
	PositionLiquidated PositionStatus = "LIQUIDATED"
)

// Position is an open loan collateralized by a token, owned by the external
// lending store. The oracle core only reads it to evaluate liquidation
// thresholds.
type Position struct {
	ID               string         // position identifier
	Borrower         string         // borrower wallet address
	Mint             string         // collateral token mint
	CollateralAmount uint64         // collateral in token base units
	SolBorrowed      uint64         // debt in lamports
	LiquidationPrice float64        // SOL per token at or below which the position is liquidatable
	Status           PositionStatus // current lifecycle state
	CreatedAtMs      int64          // Unix timestamp in milliseconds
}

// LiquidationOutcome is a completed liquidation recorded by the executor.
// The circuit breaker aggregates these over trailing windows.
type LiquidationOutcome struct {
	PositionID   string  // liquidated position
	Mint         string  // collateral token mint
	RealizedLoss float64 // protocol loss in SOL (0 when fully covered)
	TriggerPrice float64 // native price that triggered the liquidation
	ExecutedAtMs int64   // Unix timestamp in milliseconds
}
