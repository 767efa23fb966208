package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orbitalEngine/internal/orbital"
)

const aggregatorV3ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "latestRoundData", "outputs": [
    {"internalType": "uint80", "name": "roundId", "type": "uint80"},
    {"internalType": "int256", "name": "answer", "type": "int256"},
    {"internalType": "uint256", "name": "startedAt", "type": "uint256"},
    {"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
    {"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
  ], "stateMutability": "view", "type": "function"}
]`

const decimalsCacheSize = 256

var (
	aggregatorABI     abi.ABI
	aggregatorABIOnce sync.Once
	aggregatorABIErr  error
)

func getAggregatorABI() (abi.ABI, error) {
	aggregatorABIOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	})
	return aggregatorABI, aggregatorABIErr
}

// ChainlinkFeed reads asset prices from AggregatorV3 contracts.
type ChainlinkFeed struct {
	caller      Caller
	feeds       map[common.Address]common.Address
	decimals    *lru.Cache[common.Address, uint8]
	concurrency int
	logger      *zap.Logger

	head   Head
	maxAge time.Duration
}

// NewChainlinkFeed maps each asset to its aggregator contract.
func NewChainlinkFeed(caller Caller, feeds map[common.Address]common.Address, concurrency int, logger *zap.Logger) (*ChainlinkFeed, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("at least one feed is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[common.Address, uint8](decimalsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create decimals cache: %w", err)
	}
	return &ChainlinkFeed{
		caller:      caller,
		feeds:       feeds,
		decimals:    cache,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Assets lists every asset with a configured feed, in address order.
func (f *ChainlinkFeed) Assets() []common.Address {
	out := make([]common.Address, 0, len(f.feeds))
	for asset := range f.feeds {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// SetMaxAge drops answers older than maxAge relative to the chain head.
// A zero maxAge or nil head disables the check.
func (f *ChainlinkFeed) SetMaxAge(head Head, maxAge time.Duration) {
	f.head = head
	f.maxAge = maxAge
}

// Prices reads the latest answer of every asset's feed concurrently. The result
// keeps the order of assets; stale answers are left out.
func (f *ChainlinkFeed) Prices(ctx context.Context, assets []common.Address) ([]orbital.PriceReport, error) {
	for _, asset := range assets {
		if _, ok := f.feeds[asset]; !ok {
			return nil, fmt.Errorf("no feed for asset %s", asset.Hex())
		}
	}

	var headTime time.Time
	if f.head != nil && f.maxAge > 0 {
		var err error
		headTime, err = f.head.HeadTime(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain head: %w", err)
		}
	}

	reports := make([]orbital.PriceReport, len(assets))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, asset := range assets {
		i, asset, feed := i, asset, f.feeds[asset]
		g.Go(func() error {
			report, err := f.latest(gCtx, asset, feed)
			if err != nil {
				return fmt.Errorf("feed %s: %w", feed.Hex(), err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if headTime.IsZero() {
		return reports, nil
	}

	fresh := reports[:0]
	for _, report := range reports {
		if age := headTime.Sub(report.Timestamp); age > f.maxAge {
			f.logger.Warn("stale feed answer",
				zap.String("asset", report.Asset.Hex()),
				zap.Time("updated_at", report.Timestamp),
				zap.Duration("age", age),
			)
			continue
		}
		fresh = append(fresh, report)
	}
	return fresh, nil
}

func (f *ChainlinkFeed) latest(ctx context.Context, asset, feed common.Address) (orbital.PriceReport, error) {
	decimals, err := f.feedDecimals(ctx, feed)
	if err != nil {
		return orbital.PriceReport{}, err
	}
	resp, err := f.call(ctx, feed, "latestRoundData")
	if err != nil {
		return orbital.PriceReport{}, err
	}
	price, updatedAt, err := parseRoundData(resp, decimals)
	if err != nil {
		return orbital.PriceReport{}, err
	}
	f.logger.Debug("feed answer",
		zap.String("asset", asset.Hex()),
		zap.String("price", price.String()),
		zap.Time("updated_at", updatedAt),
	)
	return orbital.PriceReport{Asset: asset, Price: price, Timestamp: updatedAt}, nil
}

func (f *ChainlinkFeed) feedDecimals(ctx context.Context, feed common.Address) (uint8, error) {
	if decimals, ok := f.decimals.Get(feed); ok {
		return decimals, nil
	}
	resp, err := f.call(ctx, feed, "decimals")
	if err != nil {
		return 0, err
	}
	parsed, err := getAggregatorABI()
	if err != nil {
		return 0, err
	}
	values, err := parsed.Unpack("decimals", resp)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("decimals return size %d", len(values))
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	f.decimals.Add(feed, decimals)
	return decimals, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, feed common.Address, method string) ([]byte, error) {
	parsed, err := getAggregatorABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return resp, nil
}

// parseRoundData scales the latestRoundData answer by the feed decimals.
func parseRoundData(resp []byte, decimals uint8) (decimal.Decimal, time.Time, error) {
	parsed, err := getAggregatorABI()
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	values, err := parsed.Unpack("latestRoundData", resp)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("unpack latestRoundData: %w", err)
	}
	if len(values) != 5 {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("latestRoundData return size %d", len(values))
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("answer unexpected type %T", values[1])
	}
	if answer.Sign() <= 0 {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("non-positive answer %s", answer)
	}
	updated, ok := values[3].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("updatedAt unexpected type %T", values[3])
	}
	if !updated.IsInt64() {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("updatedAt out of range: %s", updated)
	}
	return decimal.NewFromBigInt(answer, -int32(decimals)), time.Unix(updated.Int64(), 0).UTC(), nil
}
