package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orbitalEngine/internal/chain"
	"orbitalEngine/internal/config"
	"orbitalEngine/internal/metrics"
	"orbitalEngine/internal/orbital"
	"orbitalEngine/internal/pricefeed"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	feeds, err := parseAddressMap(cfg.Feeds)
	if err != nil {
		return fmt.Errorf("parse feeds: %w", err)
	}
	if len(feeds) == 0 {
		return fmt.Errorf("feed list is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	feed, err := chain.NewChainlinkFeed(chainClient, feeds, cfg.Concurrency, logger)
	if err != nil {
		return err
	}
	feed.SetMaxAge(chainClient, cfg.MaxPriceAge)

	engine := orbital.NewManager(cfg.Engine, logger)
	if err := applyPegs(engine.Monitor(), cfg.Pegs); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	engineMetrics := metrics.NewMetrics(reg)
	engine.Monitor().Subscribe(engineMetrics.ObserveTransition)
	engine.Monitor().Subscribe(func(t orbital.Transition) {
		logger.Warn("depeg transition",
			zap.String("asset", t.Asset.Hex()),
			zap.String("from", t.From.String()),
			zap.String("to", t.To.String()),
			zap.String("deviation_bps", t.DeviationBps.StringFixed(2)),
			zap.String("reason", t.Reason),
		)
	})

	poller := pricefeed.NewPoller(pricefeed.PollConfig{
		Assets:       feed.Assets(),
		Interval:     cfg.Interval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, feed, engine, engineMetrics, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Int("feeds", len(feeds)),
		zap.Duration("interval", cfg.Interval),
		zap.Duration("max_price_age", cfg.MaxPriceAge),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := poller.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

func parseAddressMap(input map[string]string) (map[common.Address]common.Address, error) {
	out := make(map[common.Address]common.Address, len(input))
	for asset, feed := range input {
		if !common.IsHexAddress(asset) {
			return nil, fmt.Errorf("invalid asset address: %s", asset)
		}
		if !common.IsHexAddress(feed) {
			return nil, fmt.Errorf("invalid feed address: %s", feed)
		}
		out[common.HexToAddress(asset)] = common.HexToAddress(feed)
	}
	return out, nil
}

func applyPegs(monitor *orbital.DepegMonitor, pegs map[string]string) error {
	assets := make([]string, 0, len(pegs))
	for asset := range pegs {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		if !common.IsHexAddress(asset) {
			return fmt.Errorf("invalid peg asset: %s", asset)
		}
		peg, err := decimal.NewFromString(pegs[asset])
		if err != nil {
			return fmt.Errorf("invalid peg for %s: %w", asset, err)
		}
		if err := monitor.SetPeg(common.HexToAddress(asset), peg); err != nil {
			return err
		}
	}
	return nil
}
