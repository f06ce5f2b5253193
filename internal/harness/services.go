package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/anvil"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/feeder"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/postgres"
)

const (
	pgConnectAttempts = 40
	pgConnectInterval = 250 * time.Millisecond
)

// StartFeeder streams traffic into the chain until Cleanup. With a
// contract it sends token transfers, so every transaction emits a
// Transfer event; without one it sends plain value transfers.
func (tc *TestContext) StartFeeder(ctx context.Context, contract *common.Address) (*feeder.Feeder, error) {
	if tc.feeder != nil {
		return nil, errors.New("feeder already started in this context")
	}
	f, err := feeder.New(feeder.Options{
		RPCURL:         tc.node.RPCURL(),
		PrivateKey:     tc.cfg.Chain.PrivateKey,
		Contract:       contract,
		TokenTransfers: contract != nil,
		TxInterval:     tc.cfg.Feeder.TxInterval,
		MineInterval:   tc.cfg.Feeder.MineInterval,
	}, tc.logger)
	if err != nil {
		return nil, err
	}
	if err := f.Start(ctx); err != nil {
		return nil, err
	}
	tc.feeder = f
	return f, nil
}

// Feeder is the running feeder, or nil.
func (tc *TestContext) Feeder() *feeder.Feeder { return tc.feeder }

// StartPostgres provisions a database and makes every indexer started
// afterwards point at it. Without Docker the scenario is skipped.
func (tc *TestContext) StartPostgres(ctx context.Context) (*postgres.Store, error) {
	if tc.pg != nil {
		return tc.pgStore, nil
	}
	c, err := postgres.Start(ctx, postgres.Config{
		Image:    tc.cfg.Postgres.Image,
		User:     tc.cfg.Postgres.User,
		Password: tc.cfg.Postgres.Password,
		Database: tc.cfg.Postgres.Database,
	}, tc.logger)
	if err != nil {
		return nil, err
	}
	tc.pg = c

	store, err := postgres.Connect(ctx, c.DSN(), pgConnectAttempts, pgConnectInterval, tc.logger)
	if err != nil {
		return nil, err
	}
	tc.pgStore = store
	maps.Copy(tc.env, c.EnvOverrides())
	return store, nil
}

// Postgres is the store opened by StartPostgres, or nil.
func (tc *TestContext) Postgres() *postgres.Store { return tc.pgStore }

// RestartChainForked replaces the chain node with one forked from
// upstream. Anything deployed on the previous node is gone.
func (tc *TestContext) RestartChainForked(ctx context.Context, upstream string) error {
	if tc.indexer != nil || tc.feeder != nil {
		return errors.New("stop the indexer and feeder before replacing the chain")
	}
	// A node we only connected to is not ours to reap.
	owned := tc.node.Owned()
	if err := tc.node.Stop(nodeStopTimeout); err != nil {
		tc.logger.Warn("previous chain node did not stop cleanly", "error", err)
	}
	tc.contract = nil

	if err := tc.prepareLocalPort(ctx, owned && tc.cfg.Chain.ReapStray); err != nil {
		return err
	}
	probe := tc.probe()
	// Forks fetch state from upstream before answering.
	probe.Attempts *= 2
	node, err := anvil.StartForked(ctx, upstream, tc.cfg.Chain.Anvil, probe, tc.logger)
	if err != nil {
		return fmt.Errorf("failed to start forked chain: %w", err)
	}
	tc.node = node
	return tc.refreshChainID(ctx)
}
