package health

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/firefly-engineering/devproxy/internal/logging"
)

// Status summarizes a NodeStatus
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"

	// DefaultTimeout bounds each RPC call of a Query.
	DefaultTimeout = 2 * time.Second
)

// NodeStatus is a point-in-time view of a node. Optional fields are nil when
// the node is not running or the corresponding call failed.
type NodeStatus struct {
	IsRunning   bool    `json:"is_running"`
	URL         *string `json:"url"`
	BlockNumber *uint64 `json:"block_number"`
	ChainID     *uint64 `json:"chain_id"`
	GasPrice    *string `json:"gas_price"`
}

// Summary returns the summary status.
func (s NodeStatus) Summary() Status {
	if !s.IsRunning {
		return StatusStopped
	}
	if s.BlockNumber == nil || s.ChainID == nil || s.GasPrice == nil {
		return StatusDegraded
	}
	return StatusHealthy
}

// Checker queries node RPC endpoints.
type Checker struct {
	client  *http.Client
	timeout time.Duration
}

// NewChecker creates a Checker. A non-positive timeout uses DefaultTimeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Ping reports whether the node at rpcURL answers eth_chainId.
func (c *Checker) Ping(ctx context.Context, rpcURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.dial(ctx, rpcURL)
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.ChainID(ctx)
	return classify(rpcURL, err)
}

// Query collects block number, chain id and gas price concurrently. It never
// fails: total unreachability yields IsRunning=false, and a single failing
// call only leaves its own field empty.
func (c *Checker) Query(ctx context.Context, rpcURL string) NodeStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.dial(ctx, rpcURL)
	if err != nil {
		logging.Debug("node unreachable", "url", rpcURL, "error", err)
		return NodeStatus{IsRunning: false}
	}
	defer client.Close()

	var (
		wg                         sync.WaitGroup
		block                      uint64
		chainID, gasPrice          *big.Int
		blockErr, chainErr, gasErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		block, blockErr = client.BlockNumber(ctx)
	}()
	go func() {
		defer wg.Done()
		chainID, chainErr = client.ChainID(ctx)
	}()
	go func() {
		defer wg.Done()
		gasPrice, gasErr = client.SuggestGasPrice(ctx)
	}()
	wg.Wait()

	if !reachable(blockErr) && !reachable(chainErr) && !reachable(gasErr) {
		logging.Debug("node unreachable", "url", rpcURL, "error", blockErr)
		return NodeStatus{IsRunning: false}
	}

	status := NodeStatus{IsRunning: true, URL: &rpcURL}
	if blockErr == nil {
		status.BlockNumber = &block
	} else {
		logging.Debug("node rpc call failed", "method", "eth_blockNumber", "url", rpcURL, "error", blockErr)
	}
	switch {
	case chainErr != nil:
		logging.Debug("node rpc call failed", "method", "eth_chainId", "url", rpcURL, "error", chainErr)
	case chainID.IsUint64():
		v := chainID.Uint64()
		status.ChainID = &v
	default:
		logging.Debug("chain id overflows uint64", "url", rpcURL, "chain_id", chainID)
	}
	if gasErr == nil {
		v := FormatEther(gasPrice)
		status.GasPrice = &v
	} else {
		logging.Debug("node rpc call failed", "method", "eth_gasPrice", "url", rpcURL, "error", gasErr)
	}
	return status
}

// FormatUptime renders a duration in human-readable form.
func FormatUptime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
