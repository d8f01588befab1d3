package health

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/firefly-engineering/devproxy/internal/errors"
)

// dial opens an ethclient for rpcURL over the checker's HTTP client.
func (c *Checker) dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	rc, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(c.client))
	if err != nil {
		return nil, errors.RPCUnreachable(rpcURL, err)
	}
	return ethclient.NewClient(rc), nil
}

// reachable reports whether err still proves the node answered: a JSON-RPC
// error object or a non-200 HTTP reply. Anything else is a transport failure.
func reachable(err error) bool {
	if err == nil {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	var httpErr rpc.HTTPError
	return errors.As(err, &httpErr)
}

// classify maps a transport failure to RpcUnreachable and passes node-side
// failures through.
func classify(rpcURL string, err error) error {
	if err == nil || reachable(err) {
		return err
	}
	return errors.RPCUnreachable(rpcURL, err)
}

var weiPerEther = big.NewInt(params.Ether)

// FormatEther renders a wei amount as an ether decimal with 18 fractional
// digits.
func FormatEther(wei *big.Int) string {
	sign := ""
	v := new(big.Int).Set(wei)
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	whole, frac := new(big.Int).QuoRem(v, weiPerEther, new(big.Int))
	fs := frac.String()
	if len(fs) < 18 {
		fs = strings.Repeat("0", 18-len(fs)) + fs
	}
	return sign + whole.String() + "." + fs
}
