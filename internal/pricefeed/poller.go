package pricefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"orbitalEngine/internal/orbital"
)

// PollConfig holds runtime settings for the poller.
type PollConfig struct {
	Assets       []common.Address
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// Stamp replaces feed timestamps with the local clock.
	Stamp bool
}

// Observer is notified of every poll outcome.
type Observer interface {
	ObservePoll(err error)
}

// Poller pulls a feed on an interval and forwards the reports to a sink.
type Poller struct {
	cfg      PollConfig
	feed     Feed
	sink     Sink
	observer Observer
	logger   *zap.Logger
	clock    func() time.Time
}

// NewPoller builds a Poller with its dependencies. observer may be nil.
func NewPoller(cfg PollConfig, feed Feed, sink Sink, observer Observer, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		feed:     feed,
		sink:     sink,
		observer: observer,
		logger:   logger,
		clock:    time.Now,
	}
}

// Run polls until ctx is done. A failed poll is logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("price poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll fetches one round of prices and forwards them as a single batch.
func (p *Poller) Poll(ctx context.Context) error {
	if p.feed == nil || p.sink == nil {
		return fmt.Errorf("feed and sink are required")
	}
	if len(p.cfg.Assets) == 0 {
		return fmt.Errorf("no assets to poll")
	}

	var reports []orbital.PriceReport
	err := withRetry(ctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		reports, err = p.feed.Prices(ctx, p.cfg.Assets)
		if err != nil {
			p.logger.Warn("price fetch failed", zap.Error(err), zap.Int("assets", len(p.cfg.Assets)))
		}
		return err
	})
	if err == nil {
		if p.cfg.Stamp {
			now := p.clock()
			for i := range reports {
				reports[i].Timestamp = now
			}
		}
		if len(reports) > 0 {
			err = p.sink.ApplyPriceReports(reports)
		}
	}
	if p.observer != nil {
		p.observer.ObservePoll(err)
	}
	if err != nil {
		return fmt.Errorf("poll prices: %w", err)
	}

	p.logger.Debug("prices applied", zap.Int("reports", len(reports)))
	return nil
}
