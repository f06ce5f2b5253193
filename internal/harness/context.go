// Package harness provisions the disposable environment one scenario runs
// in: a chain node, a project directory and whatever services the
// scenario starts on top.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/anvil"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/artifacts"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/feeder"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/health"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/indexer"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/postgres"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/process"
	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
)

const (
	projectDirName = "test_project"

	portFreeAttempts = 10
	portFreeInterval = 100 * time.Millisecond
	reapGrace        = 2 * time.Second
	nodeStopTimeout  = 5 * time.Second
)

// TestContext is one scenario's environment. It is not safe for
// concurrent use, except for Cleanup.
type TestContext struct {
	ID         string
	WorkDir    string
	ProjectDir string

	cfg       *config.RuntimeConfig
	logger    *slog.Logger
	artifacts *artifacts.Store
	health    *health.Client
	mirror    io.Writer

	node    *anvil.Node
	chainID uint64

	project  *project.Project
	contract *common.Address

	indexer *indexer.Supervisor
	extra   []*indexer.Supervisor
	feeder  *feeder.Feeder

	pg      *postgres.Container
	pgStore *postgres.Store
	env     map[string]string

	cleanupOnce sync.Once
	cleanupErr  error
}

// New provisions a fresh chain node and working directory.
func New(ctx context.Context, cfg *config.RuntimeConfig, logger *slog.Logger) (*TestContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()[:8]
	tc := &TestContext{
		ID:        id,
		cfg:       cfg,
		logger:    logger.With("component", "harness", "context", id),
		artifacts: artifacts.NewStore(cfg.ArtifactsDir),
		health:    health.NewClient(cfg.Indexer.HealthPort, logger),
		env:       map[string]string{},
	}
	if cfg.Indexer.MirrorOutput {
		tc.mirror = os.Stderr
	}

	node, err := tc.startNode(ctx)
	if err != nil {
		return nil, err
	}
	tc.node = node
	if err := tc.refreshChainID(ctx); err != nil {
		_ = node.Stop(nodeStopTimeout)
		return nil, err
	}

	workDir, err := os.MkdirTemp(cfg.WorkRoot, fmt.Sprintf("rindexer-e2e-%s-*", id))
	if err != nil {
		_ = node.Stop(nodeStopTimeout)
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	tc.WorkDir = workDir
	tc.ProjectDir = filepath.Join(workDir, projectDirName)
	if err := os.Mkdir(tc.ProjectDir, 0o755); err != nil {
		_ = node.Stop(nodeStopTimeout)
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	tc.logger.Info("environment ready", "rpc", node.RPCURL(), "chain_id", tc.chainID, "work_dir", workDir)
	return tc, nil
}

// startNode attaches to chain.connect_url when set and otherwise spawns a
// local node, clearing stray processes and waiting for the port first.
func (tc *TestContext) startNode(ctx context.Context) (*anvil.Node, error) {
	probe := tc.probe()
	if url := tc.cfg.Chain.ConnectURL; url != "" {
		node, err := anvil.Connect(ctx, url, probe, tc.logger)
		if err == nil {
			tc.logger.Info("connected to existing chain node", "rpc", url)
			return node, nil
		}
		tc.logger.Warn("existing chain node unavailable, starting a local one", "rpc", url, "error", err)
	}

	if err := tc.prepareLocalPort(ctx, tc.cfg.Chain.ReapStray); err != nil {
		return nil, err
	}
	return anvil.StartLocal(ctx, tc.cfg.Chain.Anvil, probe, tc.logger)
}

func (tc *TestContext) prepareLocalPort(ctx context.Context, reap bool) error {
	opts := tc.cfg.Chain.Anvil
	if reap {
		if _, err := process.KillStray(ctx, filepath.Base(opts.Binary), reapGrace, tc.logger); err != nil {
			tc.logger.Warn("failed to reap stray chain nodes", "error", err)
		}
	}
	if err := process.WaitPortFree(ctx, opts.Addr(), portFreeAttempts, portFreeInterval); err != nil {
		return fmt.Errorf("chain port unavailable: %w", err)
	}
	return nil
}

func (tc *TestContext) probe() anvil.ProbeOptions {
	p := anvil.DefaultProbe()
	if tc.cfg.Chain.ReadyAttempts > 0 {
		p.Attempts = tc.cfg.Chain.ReadyAttempts
	}
	if tc.cfg.Chain.ReadyInterval > 0 {
		p.Interval = tc.cfg.Chain.ReadyInterval
	}
	return p
}

func (tc *TestContext) refreshChainID(ctx context.Context) error {
	id, err := tc.node.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id: %w", err)
	}
	tc.chainID = id.Uint64()
	return nil
}

// Node is the chain node backing this context.
func (tc *TestContext) Node() *anvil.Node { return tc.node }

func (tc *TestContext) ChainID() uint64 { return tc.chainID }

func (tc *TestContext) Config() *config.RuntimeConfig { return tc.cfg }

func (tc *TestContext) Logger() *slog.Logger { return tc.logger }

func (tc *TestContext) Artifacts() *artifacts.Store { return tc.artifacts }

func (tc *TestContext) Health() *health.Client { return tc.health }

// Contract is the deployed test token, if any.
func (tc *TestContext) Contract() (common.Address, bool) {
	if tc.contract == nil {
		return common.Address{}, false
	}
	return *tc.contract, true
}

// Cleanup releases everything in reverse acquisition order: feeder,
// indexers, postgres, chain node, then the working directory. It is
// idempotent and keeps going past failures, returning them joined.
func (tc *TestContext) Cleanup(ctx context.Context) error {
	tc.cleanupOnce.Do(func() {
		var errs []error

		if tc.feeder != nil {
			tc.feeder.Stop()
		}

		supervisors := append(slices.Clone(tc.extra), tc.indexer)
		for i := len(supervisors) - 1; i >= 0; i-- {
			if s := supervisors[i]; s != nil {
				if err := s.Stop(); err != nil {
					errs = append(errs, err)
				}
			}
		}

		if tc.pgStore != nil {
			tc.pgStore.Close()
		}
		if err := tc.pg.Terminate(ctx); err != nil {
			errs = append(errs, err)
		}

		if tc.node != nil {
			if err := tc.node.Stop(nodeStopTimeout); err != nil {
				errs = append(errs, err)
			}
		}

		if tc.WorkDir != "" {
			if tc.cfg.SkipCleanup {
				tc.logger.Info("work directory preserved", "path", tc.WorkDir)
			} else if err := os.RemoveAll(tc.WorkDir); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove work directory: %w", err))
			}
		}

		tc.cleanupErr = errors.Join(errs...)
		if tc.cleanupErr != nil {
			tc.logger.Warn("cleanup finished with errors", "error", tc.cleanupErr)
		} else {
			tc.logger.Debug("cleanup complete")
		}
	})
	return tc.cleanupErr
}
