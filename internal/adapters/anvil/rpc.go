package anvil

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

// RPC is a thin JSON-RPC client for node control methods that ethclient
// does not cover. Every failure is returned as *domain.RPCError.
type RPC struct {
	client *rpc.Client
}

// DialRPC creates a client for url. HTTP endpoints are not contacted until
// the first call.
func DialRPC(ctx context.Context, url string) (*RPC, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &domain.RPCError{Method: "dial", Err: err}
	}
	return &RPC{client: c}, nil
}

// Call invokes method and decodes the result into result, which may be nil.
func (r *RPC) Call(ctx context.Context, result any, method string, params ...any) error {
	if err := r.client.CallContext(ctx, result, method, params...); err != nil {
		return &domain.RPCError{Method: method, Err: err}
	}
	return nil
}

// BlockNumber returns the latest block height.
func (r *RPC) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := r.Call(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// ChainID returns the node's chain id.
func (r *RPC) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := r.Call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// MineBlock mines a single block with evm_mine.
func (r *RPC) MineBlock(ctx context.Context) error {
	return r.Call(ctx, nil, "evm_mine")
}

// Mine mines n blocks with anvil_mine.
func (r *RPC) Mine(ctx context.Context, n uint64) error {
	return r.Call(ctx, nil, "anvil_mine", n)
}

// SetBalance overwrites the balance of addr.
func (r *RPC) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	return r.Call(ctx, nil, "anvil_setBalance", addr, (*hexutil.Big)(wei))
}

// Raw exposes the underlying go-ethereum client.
func (r *RPC) Raw() *rpc.Client { return r.client }

func (r *RPC) Close() { r.client.Close() }
