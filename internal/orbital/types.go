package orbital

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
)

// PoolID identifies a pool.
type PoolID [32]byte

// NewPoolID derives a pool id from its immutable parameters and a creation nonce.
func NewPoolID(assets []common.Address, amplification uint64, feeRate uint32, nonce uint64) PoolID {
	h := blake3.New()
	h.Write([]byte("orbital/pool"))
	for _, asset := range assets {
		h.Write(asset.Bytes())
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], amplification)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], feeRate)
	h.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])

	var id PoolID
	h.Digest().Read(id[:])
	return id
}

// ParsePoolID decodes a 0x-prefixed 32-byte hex id.
func ParsePoolID(input string) (PoolID, error) {
	data, err := hexutil.Decode(input)
	if err != nil {
		return PoolID{}, fmt.Errorf("%w: invalid pool id %q", ErrValidation, input)
	}
	if len(data) != 32 {
		return PoolID{}, fmt.Errorf("%w: invalid pool id length %d", ErrValidation, len(data))
	}
	var id PoolID
	copy(id[:], data)
	return id, nil
}

func (id PoolID) String() string {
	return common.Hash(id).Hex()
}

// Deposit is one element of a liquidity batch.
type Deposit struct {
	Provider  common.Address
	Amounts   map[common.Address]*uint256.Int
	MinShares *uint256.Int
}

// SwapRequest describes an exact-input swap.
type SwapRequest struct {
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
}

// SwapLeg is one boundary-respecting piece of a swap.
type SwapLeg struct {
	AmountIn   *uint256.Int
	GrossOut   *uint256.Int
	Fee        *uint256.Int
	AmountOut  *uint256.Int
	Regime     Regime
	Method     string
	Iterations int
	Crossed    bool
}

// SwapResult reports a committed swap.
type SwapResult struct {
	AmountIn    *uint256.Int
	AmountOut   *uint256.Int
	GrossOut    *uint256.Int
	Fee         *uint256.Int
	Legs        []SwapLeg
	LevelBefore *big.Float
	LevelAfter  *big.Float
}

// PoolState is a read-only snapshot of a pool.
type PoolState struct {
	ID                 PoolID
	Assets             []common.Address
	Reserves           map[common.Address]*uint256.Int
	Fees               map[common.Address]*uint256.Int
	SumReserves        *uint256.Int
	SumSquaredReserves *uint256.Int
	TotalLpSupply      *uint256.Int
	Amplification      uint64
	FeeRate            uint32
	Active             bool
	Halted             bool
	Isolated           []common.Address
	Positions          int
	CreatedAt          time.Time
}

// ConsolidationStats summarizes the consolidated tick state of a pool.
type ConsolidationStats struct {
	Tick      ConsolidatedTickState
	Alpha     *uint256.Int
	Invariant Invariant
	Passes    uint64
}
