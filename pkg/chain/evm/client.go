// Package evm is a read-only JSON-RPC client for EVM chains with request
// rate limiting, transient-error retries and Multicall3 batching.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 10
	defaultMaxRetries        = 3
)

// ErrWrongChain is returned when the node serves a different chain than configured.
var ErrWrongChain = errors.New("unexpected chain id")

// Client wraps ethclient with a shared request budget.
type Client struct {
	rpcClient  *rpc.Client
	ethClient  *ethclient.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient dials rpcURL. requestsPerSecond <= 0 falls back to 10.
func NewClient(rpcURL string, requestsPerSecond int) (*Client, error) {
	rpcClient, err := rpc.DialContext(context.Background(), rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC %s: %w", rpcURL, err)
	}

	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}

	return &Client{
		rpcClient:  rpcClient,
		ethClient:  ethclient.NewClient(rpcClient),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		maxRetries: defaultMaxRetries,
	}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// CallContract performs an eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.call(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("eth_call to %s: %w", to.Hex(), err)
	}
	return out, nil
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.ChainID(ctx)
}

// ExpectChainID fails unless the node reports chain id want. A zero want
// only reads the id.
func (c *Client) ExpectChainID(ctx context.Context, want int64) (*big.Int, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	if want != 0 && (!id.IsInt64() || id.Int64() != want) {
		return id, fmt.Errorf("%w: node reports %s, configured %d", ErrWrongChain, id, want)
	}
	return id, nil
}

// call waits for the limiter before every attempt, retries included.
func (c *Client) call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := withRetry(ctx, c.maxRetries, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		out, callErr = c.ethClient.CallContract(ctx, msg, nil)
		return callErr
	})
	return out, err
}
