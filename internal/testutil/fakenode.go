package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// FakeNode is an in-process JSON-RPC server answering the handful of calls
// devproxy makes against an anvil node.
type FakeNode struct {
	mu          sync.Mutex
	chainID     uint64
	blockNumber uint64
	gasPrice    *big.Int
	failing     map[string]bool
	delay       time.Duration
	calls       map[string]int

	server *http.Server
	ln     net.Listener

	// URL is the node's RPC endpoint
	URL string
}

// NewFakeNode starts a fake node on an ephemeral loopback port.
func NewFakeNode(chainID uint64) (*FakeNode, error) {
	return StartFakeNodeOn("127.0.0.1", 0, chainID)
}

// StartFakeNodeOn starts a fake node bound to host:port.
func StartFakeNodeOn(host string, port int, chainID uint64) (*FakeNode, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	f := &FakeNode{
		chainID:  chainID,
		gasPrice: big.NewInt(1_000_000_000),
		failing:  make(map[string]bool),
		calls:    make(map[string]int),
		ln:       ln,
		URL:      "http://" + ln.Addr().String(),
	}
	f.server = &http.Server{Handler: f}
	go func() { _ = f.server.Serve(ln) }()
	return f, nil
}

// Port returns the bound port.
func (f *FakeNode) Port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

// SetBlockNumber sets the reported block number.
func (f *FakeNode) SetBlockNumber(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockNumber = n
}

// SetGasPrice sets the reported gas price in wei.
func (f *FakeNode) SetGasPrice(wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasPrice = wei
}

// Fail makes method answer with a JSON-RPC error.
func (f *FakeNode) Fail(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[method] = true
}

// SetDelay delays every response.
func (f *FakeNode) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns how often method was called.
func (f *FakeNode) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Close stops the node.
func (f *FakeNode) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.server.Shutdown(ctx); err != nil {
		return f.server.Close()
	}
	return nil
}

func (f *FakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[req.Method]++
	delay := f.delay
	failing := f.failing[req.Method]
	chainID := f.chainID
	block := f.blockNumber
	gas := new(big.Int).Set(f.gasPrice)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case failing:
		resp["error"] = map[string]any{"code": -32000, "message": "injected failure"}
	case req.Method == "eth_chainId":
		resp["result"] = fmt.Sprintf("0x%x", chainID)
	case req.Method == "eth_blockNumber":
		resp["result"] = fmt.Sprintf("0x%x", block)
	case req.Method == "eth_gasPrice":
		resp["result"] = "0x" + gas.Text(16)
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
