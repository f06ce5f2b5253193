package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/feeder"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/postgres"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	tablePollInterval = 500 * time.Millisecond
	recipientScanRows = 1000
)

// Column names rindexer has used for the Transfer recipient.
var recipientColumns = []string{"to", "to_address", "recipient"}

// postgresEndToEnd indexes a bounded range into Postgres and counts the
// stored transfers.
func postgresEndToEnd(ctx context.Context, tc *harness.TestContext) error {
	store, err := tc.StartPostgres(ctx)
	if err != nil {
		return err
	}
	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	head, err := tc.Node().BlockNumber(ctx)
	if err != nil {
		return err
	}
	p := tc.ContractProject(addr).WithEndBlock(head).WithPostgres(true).WithoutCSV()
	if err := tc.StartIndexer(ctx, p); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 60*time.Second); err != nil {
		return err
	}

	table, err := waitForTable(ctx, tc, store, p.Name, 30*time.Second)
	if err != nil {
		return err
	}
	n, err := store.CountRows(ctx, table)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("expected rows in %s, found none", table)
	}
	tc.Logger().Info("transfers stored", "table", table.String(), "rows", n)
	return nil
}

// postgresLiveRows feeds transfers to the feeder's deterministic
// recipients and waits until the first of them show up in Postgres.
func postgresLiveRows(ctx context.Context, tc *harness.TestContext) error {
	store, err := tc.StartPostgres(ctx)
	if err != nil {
		return err
	}
	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	p := tc.ContractProject(addr).WithPostgres(true).WithoutCSV()
	if err := tc.StartIndexer(ctx, p); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 20*time.Second); err != nil {
		return err
	}
	table, err := waitForTable(ctx, tc, store, p.Name, 30*time.Second)
	if err != nil {
		return err
	}
	baseline, err := store.CountRows(ctx, table)
	if err != nil {
		return err
	}

	f, err := tc.StartFeeder(ctx, &addr)
	if err != nil {
		return err
	}
	want := []string{
		strings.ToLower(feeder.DeterministicAddress(0).Hex()),
		strings.ToLower(feeder.DeterministicAddress(1).Hex()),
	}

	var missing []string
	out := readiness.Until(ctx, func(ctx context.Context) (bool, error) {
		_, values, err := store.ColumnValues(ctx, table, recipientColumns, recipientScanRows)
		if err != nil {
			return false, err
		}
		seen := lo.Map(values, func(v string, _ int) string { return normalizeAddress(v) })
		missing = lo.Without(want, seen...)
		return len(missing) == 0, nil
	}, readiness.Options{
		Interval:   tablePollInterval,
		Timeout:    60 * time.Second,
		ExitStatus: tc.Indexer().ExitStatus,
	})
	if !out.Ready() {
		if err := tc.RequireIndexerRunning(); err != nil {
			return err
		}
		return fmt.Errorf("recipients %v not stored (feeder sent %d): %w", missing, f.TxCount(), out.Err("postgres rows"))
	}

	n, err := store.CountRows(ctx, table)
	if err != nil {
		return err
	}
	if n <= baseline {
		return fmt.Errorf("row count did not grow past %d", baseline)
	}
	tc.Logger().Info("live transfers stored", "table", table.String(), "baseline", baseline, "rows", n)
	return nil
}

// waitForTable polls until the indexer has created the Transfer table.
func waitForTable(ctx context.Context, tc *harness.TestContext, store *postgres.Store, projectName string, timeout time.Duration) (postgres.Table, error) {
	var table postgres.Table
	out := readiness.Until(ctx, func(ctx context.Context) (bool, error) {
		t, err := store.FindEventTable(ctx, projectName, project.TokenContract, project.TransferEvent)
		if errors.Is(err, postgres.ErrTableNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		table = t
		return true, nil
	}, readiness.Options{
		Interval:   tablePollInterval,
		Timeout:    timeout,
		ExitStatus: tc.Indexer().ExitStatus,
	})
	if !out.Ready() {
		if err := tc.RequireIndexerRunning(); err != nil {
			return table, err
		}
		return table, fmt.Errorf("transfer table never created: %w", out.Err("postgres table"))
	}
	return table, nil
}

// normalizeAddress accepts text or bytea renderings of an address.
func normalizeAddress(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if strings.HasPrefix(v, `\x`) {
		v = "0x" + v[2:]
	}
	return v
}
