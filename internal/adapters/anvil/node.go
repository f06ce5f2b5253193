// Package anvil supervises the local anvil chain node used by scenarios.
package anvil

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/process"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	defaultStopTimeout = 5 * time.Second
	deployTimeout      = 30 * time.Second
)

// ProbeOptions bounds the RPC readiness probe.
type ProbeOptions struct {
	Attempts int
	Interval time.Duration
}

// DefaultProbe waits up to 30 seconds for the node.
func DefaultProbe() ProbeOptions {
	return ProbeOptions{Attempts: 30, Interval: time.Second}
}

// Node is a running anvil instance, either spawned by us or connected to.
type Node struct {
	rpcURL string
	wsURL  string

	proc *process.ManagedProcess
	tail *process.Tail

	rpc *RPC
	eth *ethclient.Client

	logger   *slog.Logger
	stopOnce sync.Once
	stopErr  error
}

// BuildArgs returns the anvil command line for opts.
func BuildArgs(opts domain.AnvilOptions) []string {
	args := []string{
		"--host", opts.Host,
		"--port", strconv.Itoa(opts.Port),
		"--chain-id", strconv.FormatUint(opts.ChainID, 10),
		"--accounts", strconv.Itoa(opts.Accounts),
		"--balance", strconv.FormatUint(opts.Balance, 10),
		"--gas-limit", strconv.FormatUint(opts.GasLimit, 10),
		"--gas-price", strconv.FormatUint(opts.GasPrice, 10),
	}
	if opts.BlockTime > 0 {
		args = append(args, "--block-time", strconv.Itoa(opts.BlockTime))
	}
	if opts.ForkURL != "" {
		args = append(args, "--fork-url", opts.ForkURL)
		if opts.ForkBlock > 0 {
			args = append(args, "--fork-block-number", strconv.FormatUint(opts.ForkBlock, 10))
		}
	}
	if opts.Silent {
		args = append(args, "--silent")
	}
	return args
}

// StartLocal spawns a fresh local chain and waits for its RPC.
func StartLocal(ctx context.Context, opts domain.AnvilOptions, probe ProbeOptions, logger *slog.Logger) (*Node, error) {
	opts.ForkURL = ""
	opts.ForkBlock = 0
	return start(ctx, opts, probe, logger)
}

// StartForked spawns a chain forked from upstream.
func StartForked(ctx context.Context, upstream string, opts domain.AnvilOptions, probe ProbeOptions, logger *slog.Logger) (*Node, error) {
	if upstream == "" {
		return nil, errors.New("fork upstream URL is required")
	}
	opts.ForkURL = upstream
	return start(ctx, opts, probe, logger)
}

// Connect attaches to an already running node. The returned Node owns no
// process and Stop only closes its clients.
func Connect(ctx context.Context, url string, probe ProbeOptions, logger *slog.Logger) (*Node, error) {
	n, err := newNode(ctx, url, "", nil, logger)
	if err != nil {
		return nil, err
	}
	if err := n.WaitForRPCReady(ctx, probe); err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

func start(ctx context.Context, opts domain.AnvilOptions, probe ProbeOptions, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "anvil")

	proc := process.New(process.SpawnOptions{
		Name:    "anvil",
		Command: opts.Binary,
		Args:    BuildArgs(opts),
	}, logger)
	tail := process.NewTail(20)
	proc.OnStdoutLine(tail.Add)
	proc.OnStderrLine(tail.Add)
	proc.OnStderrLine(func(line string) {
		logger.Debug("anvil stderr", "line", line)
	})

	if err := proc.Start(); err != nil {
		return nil, err
	}

	n, err := newNode(ctx, opts.RPCURL(), opts.WSURL(), proc, logger)
	if err != nil {
		proc.Kill(defaultStopTimeout)
		return nil, err
	}
	n.tail = tail

	if err := n.WaitForRPCReady(ctx, probe); err != nil {
		_ = n.Stop(defaultStopTimeout)
		return nil, err
	}
	logger.Info("anvil ready", "rpc", n.rpcURL, "pid", proc.PID(), "fork", opts.ForkURL != "")
	return n, nil
}

func newNode(ctx context.Context, rpcURL, wsURL string, proc *process.ManagedProcess, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, err := DialRPC(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	if wsURL == "" && strings.HasPrefix(rpcURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(rpcURL, "http")
	}
	return &Node{
		rpcURL: rpcURL,
		wsURL:  wsURL,
		proc:   proc,
		rpc:    r,
		eth:    ethclient.NewClient(r.Raw()),
		logger: logger,
	}, nil
}

// WaitForRPCReady polls eth_blockNumber until it answers. It fails fast if
// the owned process exits.
func (n *Node) WaitForRPCReady(ctx context.Context, probe ProbeOptions) error {
	if probe.Attempts < 1 {
		probe.Attempts = 1
	}
	if probe.Interval <= 0 {
		probe.Interval = time.Second
	}

	var attempts atomic.Int32
	opts := readiness.Options{
		Interval: probe.Interval,
		Timeout:  time.Duration(probe.Attempts) * probe.Interval,
	}
	if n.proc != nil {
		opts.Exited = n.proc.Done()
		opts.ExitStatus = n.proc.TryExitStatus
	}

	out := readiness.PollUntil(ctx, func(ctx context.Context) (uint64, error) {
		attempts.Add(1)
		callCtx, cancel := context.WithTimeout(ctx, probe.Interval)
		defer cancel()
		return n.rpc.BlockNumber(callCtx)
	}, func(uint64) bool { return true }, opts)

	switch out.Kind {
	case domain.OutcomeReady:
		return nil
	case domain.OutcomeProcessExited:
		err := out.Err("anvil")
		if n.tail != nil {
			if lines := n.tail.Lines(); len(lines) > 0 {
				return fmt.Errorf("%w: %s", err, strings.Join(lines, " | "))
			}
		}
		return err
	default:
		return &domain.NodeNeverReadyError{URL: n.rpcURL, Attempts: int(attempts.Load()), Last: out.LastErr}
	}
}

func (n *Node) RPCURL() string { return n.rpcURL }
func (n *Node) WSURL() string  { return n.wsURL }

// Owned reports whether this node's process was spawned by the harness.
func (n *Node) Owned() bool { return n.proc != nil }

// Running reports whether the owned process is alive. Connected nodes are
// always considered running.
func (n *Node) Running() bool {
	return n.proc == nil || n.proc.Running()
}

// Eth exposes the typed go-ethereum client.
func (n *Node) Eth() *ethclient.Client { return n.eth }

// RPC exposes the raw control client.
func (n *Node) RPC() *RPC { return n.rpc }

func (n *Node) BlockNumber(ctx context.Context) (uint64, error) { return n.rpc.BlockNumber(ctx) }

func (n *Node) ChainID(ctx context.Context) (*big.Int, error) { return n.rpc.ChainID(ctx) }

func (n *Node) MineBlock(ctx context.Context) error { return n.rpc.MineBlock(ctx) }

func (n *Node) Mine(ctx context.Context, blocks uint64) error { return n.rpc.Mine(ctx, blocks) }

func (n *Node) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	return n.rpc.SetBalance(ctx, addr, wei)
}

// DeployContract deploys bytecode from key's account and waits for the
// receipt.
func (n *Node) DeployContract(ctx context.Context, key *ecdsa.PrivateKey, bytecode []byte) (common.Address, error) {
	if len(bytecode) == 0 {
		return common.Address{}, errors.New("empty contract bytecode")
	}
	tr, err := NewTransactor(ctx, n.eth, key)
	if err != nil {
		return common.Address{}, err
	}
	tx, err := tr.Send(ctx, nil, nil, bytecode, 0)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy: %w", err)
	}
	receipt, err := WaitForReceipt(ctx, n.eth, tx.Hash(), deployTimeout)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, fmt.Errorf("deploy transaction %s reverted", tx.Hash().Hex())
	}
	n.logger.Info("contract deployed", "address", receipt.ContractAddress.Hex(), "block", receipt.BlockNumber)
	return receipt.ContractAddress, nil
}

// Stop terminates the owned process and closes the clients. It is
// idempotent.
func (n *Node) Stop(timeout time.Duration) error {
	n.stopOnce.Do(func() {
		if n.proc != nil {
			if !n.proc.Kill(timeout) {
				n.stopErr = fmt.Errorf("anvil did not exit within %s and was killed", timeout)
			}
		}
		n.close()
	})
	return n.stopErr
}

func (n *Node) close() {
	n.rpc.Close()
}
