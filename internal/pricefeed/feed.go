package pricefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"orbitalEngine/internal/orbital"
)

// Feed returns at most one report per requested asset, in request order.
type Feed interface {
	Prices(ctx context.Context, assets []common.Address) ([]orbital.PriceReport, error)
}

// Sink receives polled reports. *orbital.Manager satisfies it.
type Sink interface {
	ApplyPriceReports(reports []orbital.PriceReport) error
}

// StaticFeed serves prices set in memory.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[common.Address]decimal.Decimal
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[common.Address]decimal.Decimal)}
}

// Set stores the price returned for asset.
func (f *StaticFeed) Set(asset common.Address, price decimal.Decimal) {
	f.mu.Lock()
	f.prices[asset] = price
	f.mu.Unlock()
}

func (f *StaticFeed) Prices(_ context.Context, assets []common.Address) ([]orbital.PriceReport, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]orbital.PriceReport, 0, len(assets))
	for _, asset := range assets {
		price, ok := f.prices[asset]
		if !ok {
			return nil, fmt.Errorf("no price for asset %s", asset.Hex())
		}
		out = append(out, orbital.PriceReport{Asset: asset, Price: price})
	}
	return out, nil
}
