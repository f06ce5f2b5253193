package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
)

// FirstDeployAddress is where the default dev account's first contract
// creation lands on a fresh anvil chain.
const FirstDeployAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// The demo project indexes rETH on mainnet.
const (
	demoContract = "RocketPoolETH"
	demoABI      = "./abis/RocketTokenRETH.abi.json"
	demoAddress  = "0xae78736cd615f374d3085123a210448e74fc6393"
	demoStart    = "18600000"
	demoEnd      = "18600500"
)

var demoRPCs = []string{"http://localhost:8545", "http://127.0.0.1:8545"}

// AdaptDemoYAML rewrites the demo project to index the test token on the
// local chain from block 0 into CSV.
func AdaptDemoYAML(content, address, rpcURL string) string {
	pairs := []string{
		demoContract, project.TokenContract,
		demoABI, "./abis/" + project.TokenContract + ".abi.json",
		demoAddress, address,
		demoStart, "0",
		demoEnd, "0",
		"postgres:\n    enabled: true\n    drop_each_run: true", "postgres:\n    enabled: false",
		"csv:\n    enabled: false", "csv:\n    enabled: true",
	}
	for _, rpc := range demoRPCs {
		if rpc != rpcURL {
			pairs = append(pairs, rpc, rpcURL)
		}
	}
	// Applied in order: later pairs see the output of earlier ones.
	for i := 0; i < len(pairs); i += 2 {
		content = strings.ReplaceAll(content, pairs[i], pairs[i+1])
	}
	return content
}

func demoYAML(ctx context.Context, tc *harness.TestContext) error {
	path := tc.Config().DemoYAML
	if path == "" {
		return domain.Skip("demo_yaml not configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Skip("demo project %s not found", path)
		}
		return fmt.Errorf("failed to read demo project: %w", err)
	}

	address := FirstDeployAddress
	addr, err := tc.DeployTestContract(ctx)
	switch {
	case err == nil:
		address = addr.Hex()
	case domain.IsSkip(err):
		tc.Logger().Warn("token not deployed, demo indexes an empty address", "address", address, "reason", err)
	default:
		return err
	}

	if _, err := tc.Artifacts().CopyABI(project.TokenContract, tc.ProjectDir); err != nil {
		return err
	}
	if err := tc.WriteRawProject([]byte(AdaptDemoYAML(string(raw), address, tc.Node().RPCURL()))); err != nil {
		return err
	}
	if err := tc.StartIndexer(ctx, nil); err != nil {
		return err
	}
	if err := tc.WaitForHealthReady(ctx, 30*time.Second); err != nil {
		return err
	}
	return tc.RequireIndexerRunning()
}
