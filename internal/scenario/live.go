package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
)

// liveIndexing syncs the deployment history, then starts the feeder and
// waits for expected Transfer rows beyond the synced baseline.
func liveIndexing(expected int, within time.Duration) Step[*harness.TestContext] {
	return func(ctx context.Context, tc *harness.TestContext) error {
		addr, err := tc.DeployTestContract(ctx)
		if err != nil {
			return err
		}
		if err := tc.StartIndexer(ctx, tc.ContractProject(addr)); err != nil {
			return err
		}
		if err := tc.WaitForSyncCompletion(ctx, 10*time.Second); err != nil {
			return err
		}

		baseline, err := tc.EventCount(project.TokenContract, project.TransferEvent)
		if err != nil {
			return err
		}
		tc.Logger().Info("baseline recorded", "events", baseline)

		f, err := tc.StartFeeder(ctx, &addr)
		if err != nil {
			return err
		}
		final, err := tc.WaitForNewEvents(ctx, baseline, expected, within)
		if err != nil {
			return fmt.Errorf("%w (feeder sent %d transactions)", err, f.TxCount())
		}
		tc.Logger().Info("live events indexed", "new", final-baseline, "sent", f.TxCount())
		return nil
	}
}

// forkedChain replaces the local chain with a fork of chain.fork_url and
// indexes only from the fork point, so no upstream history is scanned.
func forkedChain(ctx context.Context, tc *harness.TestContext) error {
	upstream := tc.Config().Chain.Anvil.ForkURL
	if upstream == "" {
		return domain.Skip("chain.fork_url not configured")
	}
	if err := tc.RestartChainForked(ctx, upstream); err != nil {
		return err
	}
	forkPoint, err := tc.Node().BlockNumber(ctx)
	if err != nil {
		return err
	}
	tc.Logger().Info("forked chain ready", "block", forkPoint, "chain_id", tc.ChainID())

	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	if err := tc.StartIndexer(ctx, tc.ContractProject(addr).WithStartBlock(forkPoint)); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 60*time.Second); err != nil {
		return err
	}
	if err := tc.RequireIndexerRunning(); err != nil {
		return err
	}

	n, err := tc.EventCount(project.TokenContract, project.TransferEvent)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("mint on the forked chain was not indexed")
	}
	return nil
}
