package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// A project without contracts may never print a completion marker, so a
// slow sync is fine as long as the process stays up.
func basicConnection(ctx context.Context, tc *harness.TestContext) error {
	if err := tc.StartIndexer(ctx, tc.MinimalProject()); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 5*time.Second); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return err
		}
		tc.Logger().Info("no sync marker yet, checking the indexer is alive")
	}
	return tc.RequireIndexerRunning()
}

func contractDiscovery(ctx context.Context, tc *harness.TestContext) error {
	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	if err := tc.StartIndexer(ctx, tc.ContractProject(addr)); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 15*time.Second); err != nil {
		return err
	}
	if err := tc.RequireIndexerRunning(); err != nil {
		return err
	}
	if _, err := os.Stat(tc.CSVOutputPath()); err != nil {
		return fmt.Errorf("csv output not created, contract not registered: %w", err)
	}
	return nil
}

func historicIndexing(ctx context.Context, tc *harness.TestContext) error {
	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	if err := tc.StartIndexer(ctx, tc.ContractProject(addr)); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 20*time.Second); err != nil {
		return err
	}

	header, rows, err := tc.EventRows(project.TokenContract, project.TransferEvent)
	if err != nil {
		return err
	}
	if header == nil {
		return fmt.Errorf("transfer csv not found at %s", tc.EventCSVPath(project.TokenContract, project.TransferEvent))
	}
	if len(rows) == 0 {
		return errors.New("transfer csv has a header but no rows")
	}
	if !rowContains(rows[0], strings.ToLower(addr.Hex())) {
		return fmt.Errorf("first transfer row does not mention contract %s", addr.Hex())
	}
	if !rowContains(rows[0], zeroAddress) {
		return errors.New("first transfer row is not a mint from the zero address")
	}
	tc.Logger().Info("historic transfer indexed", "rows", len(rows))
	return nil
}

func rowContains(row []string, value string) bool {
	return slices.ContainsFunc(row, func(field string) bool {
		return strings.Contains(strings.ToLower(field), value)
	})
}

const crashScript = `#!/bin/sh
echo "starting rindexer"
echo "fatal: could not read rindexer.yaml" >&2
exit 1
`

// crashDetection swaps in an executable that dies immediately. The wait
// must report the crash rather than time out.
func crashDetection(ctx context.Context, tc *harness.TestContext) error {
	bin := filepath.Join(tc.WorkDir, "crashing-indexer")
	if err := os.WriteFile(bin, []byte(crashScript), 0o755); err != nil {
		return fmt.Errorf("failed to write crashing indexer: %w", err)
	}
	// The crash may land inside the startup grace period or after it.
	err := tc.StartIndexer(ctx, tc.MinimalProject(), harness.WithBinary(bin))
	if err == nil {
		err = tc.WaitForSyncCompletion(ctx, 10*time.Second)
	}
	var crashed *domain.IndexerCrashedError
	switch {
	case err == nil:
		return errors.New("sync reported complete for an indexer that exits immediately")
	case !errors.As(err, &crashed):
		return fmt.Errorf("expected a crash, got: %w", err)
	case crashed.Status.Code != 1:
		return fmt.Errorf("expected exit code 1, got %s", crashed.Status)
	}
	if !slices.ContainsFunc(crashed.Tail, func(l string) bool { return strings.Contains(l, "fatal") }) {
		return fmt.Errorf("crash output missing from log tail: %v", crashed.Tail)
	}
	tc.Logger().Info("crash surfaced", "status", crashed.Status.String())
	return nil
}

// completionSettle is how long a completed sync must stay completed.
const completionSettle = 5 * time.Second

// healthReadyAndComplete bounds the range at the current head so the
// indexer has a finite amount of work and reports completion.
func healthReadyAndComplete(ctx context.Context, tc *harness.TestContext) error {
	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	head, err := tc.Node().BlockNumber(ctx)
	if err != nil {
		return err
	}
	if err := tc.StartIndexer(ctx, tc.ContractProject(addr).WithEndBlock(head)); err != nil {
		return err
	}
	if err := tc.WaitForHealthReady(ctx, 10*time.Second); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 30*time.Second); err != nil {
		return err
	}
	if err := pause(ctx, completionSettle); err != nil {
		return err
	}
	if !tc.Indexer().SyncCompleted() {
		return errors.New("sync flag cleared after completion")
	}
	return nil
}
