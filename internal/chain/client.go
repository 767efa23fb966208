package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

const headerCacheSize = 1024

// Caller is the contract read surface used by price feeds.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Head reports the chain head, used to age oracle answers.
type Head interface {
	HeadTime(ctx context.Context) (time.Time, error)
}

// Client wraps go-ethereum RPC for oracle reads.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	headTimes *lru.Cache[uint64, uint64]
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[uint64, uint64](headerCacheSize)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("create header cache: %w", err)
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		headTimes: cache,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// HeadTime returns the timestamp of the latest block.
func (c *Client) HeadTime(ctx context.Context) (time.Time, error) {
	number, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("block number: %w", err)
	}
	ts, err := c.BlockTimestamp(ctx, number)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(ts), 0).UTC(), nil
}

// BlockTimestamp returns the timestamp of block number. Headers are cached by number.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.headTimes.Get(number); ok {
		return ts, nil
	}
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}
	c.headTimes.Add(number, header.Time)
	return header.Time, nil
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
