package curve

// State is the derived view of a bonding curve. It is recomputed on demand
// from the token config and the latest ledger record and is never persisted
// as a source of truth.
type State struct {
	BaseReserves  int64 `json:"base_reserves"`
	TokenReserves int64 `json:"token_reserves"`
	Price         Price `json:"price"`
	CompletionBps int64 `json:"completion_bps"`
	IsGraduated   bool  `json:"is_graduated"`
}

// Band categorizes a curve by raise progress. Bands are derived, never
// stored.
type Band int32

const (
	BandEarly Band = iota
	BandNear       // completion in [50%, 100%)
	BandGraduated
)

func (b Band) String() string {
	switch b {
	case BandNear:
		return "near"
	case BandGraduated:
		return "graduated"
	default:
		return "early"
	}
}

// nearBandFloorBps is the lower edge of the near-graduation band.
const nearBandFloorBps = 5_000

// LockedTokenReserves returns the portion of the initial token reserves that
// can never be sold into the curve (held back for post-graduation
// liquidity).
func LockedTokenReserves(initialTokenReserves int64, lockedBps int32) int64 {
	if initialTokenReserves <= 0 || lockedBps <= 0 {
		return 0
	}
	return mulDivFloor(initialTokenReserves, int64(lockedBps), BpsDenominator)
}

// CompletionBps returns raise progress in basis points, clamped to
// [0, 10000]:
//
//	(initial - current) / (initial - locked) * 10000
//
// 10000 means the token reserves have reached the lock boundary.
func CompletionBps(initialTokenReserves, currentTokenReserves int64, lockedBps int32) int64 {
	locked := LockedTokenReserves(initialTokenReserves, lockedBps)
	denom := initialTokenReserves - locked
	if denom <= 0 {
		return 0
	}
	sold := initialTokenReserves - currentTokenReserves
	if sold <= 0 {
		return 0
	}
	bps := mulDivFloor(sold, BpsDenominator, denom)
	if bps > BpsDenominator {
		return BpsDenominator
	}
	return bps
}

// ProjectState derives the current curve state. currentBase/currentToken are
// the latest post-trade reserve snapshot, or the initial virtual reserves if
// the token has no trades yet. graduated carries the one-way flag forward:
// once set it stays set regardless of the reserves passed in.
func ProjectState(
	initialBase, initialToken int64,
	lockedBps int32,
	currentBase, currentToken int64,
	graduated bool,
) State {
	completion := CompletionBps(initialToken, currentToken, lockedBps)
	return State{
		BaseReserves:  currentBase,
		TokenReserves: currentToken,
		Price:         PriceFromReserves(currentBase, currentToken),
		CompletionBps: completion,
		IsGraduated:   graduated || completion >= BpsDenominator,
	}
}

// BandOf maps a state to its progress band.
func (s State) BandOf() Band {
	switch {
	case s.IsGraduated:
		return BandGraduated
	case s.CompletionBps >= nearBandFloorBps:
		return BandNear
	default:
		return BandEarly
	}
}

// CompletionPct is a presentation helper: completion as a percentage with
// two decimal places of underlying precision.
func (s State) CompletionPct() float64 {
	return float64(s.CompletionBps) / 100
}
