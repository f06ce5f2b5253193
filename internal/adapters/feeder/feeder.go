// Package feeder streams transactions and blocks into a running chain node
// while the indexer under test is live.
package feeder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/anvil"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

const (
	DefaultTxInterval   = 2 * time.Second
	DefaultMineInterval = time.Second

	// rpcTimeout bounds one submission or mine call.
	rpcTimeout = 10 * time.Second
)

// DefaultTransferValue is 0.001 ether.
var DefaultTransferValue = big.NewInt(1_000_000_000_000_000)

const callsABI = `[
	{"type":"function","name":"setNumber","stateMutability":"nonpayable",
		"inputs":[{"name":"newNumber","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
		"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]}]`

var calls = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(callsABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Options configures a Feeder.
type Options struct {
	RPCURL     string
	PrivateKey string
	// Contract, when set, receives setNumber calls instead of value transfers.
	Contract *common.Address
	// TokenTransfers switches contract calls to ERC20 transfer(to, 1) so
	// every transaction emits a Transfer event.
	TokenTransfers bool

	TxInterval    time.Duration
	MineInterval  time.Duration
	TransferValue *big.Int
}

func (o *Options) applyDefaults() {
	if o.PrivateKey == "" {
		o.PrivateKey = domain.DefaultDevPrivateKey
	}
	if o.TxInterval <= 0 {
		o.TxInterval = DefaultTxInterval
	}
	if o.MineInterval <= 0 {
		o.MineInterval = DefaultMineInterval
	}
	if o.TransferValue == nil {
		o.TransferValue = DefaultTransferValue
	}
}

// Feeder runs a transaction loop and a mining loop against one node.
type Feeder struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	group   *errgroup.Group
	rpc     *anvil.RPC
	stopped bool

	txCount    atomic.Uint64
	blockCount atomic.Uint64
}

// New validates options. Nothing is dialed until Start.
func New(opts Options, logger *slog.Logger) (*Feeder, error) {
	opts.applyDefaults()
	if opts.RPCURL == "" {
		return nil, errors.New("feeder requires an RPC URL")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{opts: opts, logger: logger.With("component", "feeder")}, nil
}

// Start dials the node and launches both loops. It returns as soon as the
// loops are running.
func (f *Feeder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.group != nil || f.stopped {
		return errors.New("feeder already started")
	}

	key, err := anvil.ParsePrivateKey(f.opts.PrivateKey)
	if err != nil {
		return err
	}
	r, err := anvil.DialRPC(ctx, f.opts.RPCURL)
	if err != nil {
		return err
	}
	tx, err := anvil.NewTransactor(ctx, ethclient.NewClient(r.Raw()), key)
	if err != nil {
		r.Close()
		return err
	}

	stop := make(chan struct{})
	group := new(errgroup.Group)
	group.Go(func() error { return f.txLoop(ctx, stop, tx) })
	group.Go(func() error { return f.mineLoop(ctx, stop, r) })

	f.rpc, f.stop, f.group = r, stop, group
	f.logger.Info("feeder started",
		"tx_interval", f.opts.TxInterval,
		"mine_interval", f.opts.MineInterval,
		"contract", f.opts.Contract != nil)
	return nil
}

// Stop ends both loops between ticks and waits for any call in flight to
// finish. No RPC call is issued after it returns. Safe to call more than
// once and from any goroutine.
func (f *Feeder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	if f.group == nil {
		return
	}
	close(f.stop)
	_ = f.group.Wait()
	f.rpc.Close()
	f.logger.Info("feeder stopped", "txs", f.txCount.Load(), "blocks", f.blockCount.Load())
}

// TxCount is the number of transactions accepted by the node.
func (f *Feeder) TxCount() uint64 { return f.txCount.Load() }

// BlockCount is the number of successful mine calls.
func (f *Feeder) BlockCount() uint64 { return f.blockCount.Load() }

func (f *Feeder) txLoop(ctx context.Context, stop <-chan struct{}, tx *anvil.Transactor) error {
	return tick(ctx, stop, f.opts.TxInterval, func() {
		callCtx, cancel := callContext(ctx)
		defer cancel()
		n := f.txCount.Load()
		if err := f.submit(callCtx, tx, n); err != nil {
			f.logger.Warn("transaction failed", "counter", n, "error", err)
			return
		}
		f.txCount.Add(1)
	})
}

func (f *Feeder) submit(ctx context.Context, tx *anvil.Transactor, counter uint64) error {
	if f.opts.Contract != nil {
		method, data, err := f.contractCall(counter)
		if err != nil {
			return err
		}
		sent, err := tx.Send(ctx, f.opts.Contract, nil, data, 0)
		if err != nil {
			return err
		}
		f.logger.Debug("contract call submitted", "method", method, "counter", counter, "hash", sent.Hash())
		return nil
	}
	to := DeterministicAddress(counter)
	sent, err := tx.Send(ctx, &to, f.opts.TransferValue, nil, 0)
	if err != nil {
		return err
	}
	f.logger.Debug("transfer submitted", "counter", counter, "to", to, "hash", sent.Hash())
	return nil
}

func (f *Feeder) contractCall(counter uint64) (string, []byte, error) {
	if f.opts.TokenTransfers {
		data, err := EncodeTokenTransfer(DeterministicAddress(counter), big.NewInt(1))
		return "transfer", data, err
	}
	data, err := EncodeSetNumber(counter)
	return "setNumber", data, err
}

func (f *Feeder) mineLoop(ctx context.Context, stop <-chan struct{}, r *anvil.RPC) error {
	return tick(ctx, stop, f.opts.MineInterval, func() {
		callCtx, cancel := callContext(ctx)
		defer cancel()
		if err := r.Mine(callCtx, 1); err != nil {
			f.logger.Warn("mine failed", "block", f.blockCount.Load(), "error", err)
			return
		}
		f.blockCount.Add(1)
	})
}

// callContext outlives loop cancellation, bounded by rpcTimeout.
func callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rpcTimeout)
}

// tick runs fn immediately and then every interval until stop closes or
// ctx ends. Both are only checked between calls.
func tick(ctx context.Context, stop <-chan struct{}, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
		fn()
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DeterministicAddress derives a recipient for the nth transfer. Byte 0 is
// 0x42 and bytes 12..19 carry the counter big endian, so distinct counters
// give distinct addresses.
func DeterministicAddress(counter uint64) common.Address {
	var addr common.Address
	addr[0] = 0x42
	binary.BigEndian.PutUint64(addr[12:20], counter)
	return addr
}

// EncodeSetNumber packs setNumber(uint256) calldata.
func EncodeSetNumber(value uint64) ([]byte, error) {
	data, err := calls.Pack("setNumber", new(big.Int).SetUint64(value))
	if err != nil {
		return nil, fmt.Errorf("pack setNumber: %w", err)
	}
	return data, nil
}

// EncodeTokenTransfer packs ERC20 transfer(address,uint256) calldata.
func EncodeTokenTransfer(to common.Address, value *big.Int) ([]byte, error) {
	data, err := calls.Pack("transfer", to, value)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	return data, nil
}
