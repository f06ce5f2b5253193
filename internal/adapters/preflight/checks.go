// Package preflight implements the environment checks run before a suite.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/anvil"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/artifacts"
	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/postgres"
	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// BinaryCheck resolves an executable by path or on PATH.
type BinaryCheck struct {
	Label string
	Path  string
}

func (c BinaryCheck) Name() string { return c.Label }

func (c BinaryCheck) Check(context.Context) (string, error) {
	if c.Path == "" {
		return "", errors.New("not configured")
	}
	resolved, err := exec.LookPath(c.Path)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// ArtifactCheck loads the test contract. A missing bytecode is reported in
// the detail only, since scenarios that deploy skip rather than fail.
type ArtifactCheck struct {
	Store    *artifacts.Store
	Contract string
}

func (c ArtifactCheck) Name() string { return "artifacts" }

func (c ArtifactCheck) Check(context.Context) (string, error) {
	if _, err := c.Store.LoadDeployable(c.Contract); err == nil {
		return fmt.Sprintf("%s abi and bytecode in %s", c.Contract, c.Store.Dir()), nil
	}
	if _, err := c.Store.Load(c.Contract); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s abi only, deploying scenarios will skip", c.Contract), nil
}

// RPCCheck dials an existing node and reads its chain id.
type RPCCheck struct {
	URL string
}

func (c RPCCheck) Name() string { return "chain rpc" }

func (c RPCCheck) Check(ctx context.Context) (string, error) {
	client, err := anvil.DialRPC(ctx, c.URL)
	if err != nil {
		return "", err
	}
	defer client.Close()
	id, err := client.ChainID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (chain %d)", c.URL, id), nil
}

// DockerCheck pings the daemon the Postgres scenarios start containers on.
type DockerCheck struct{}

func (DockerCheck) Name() string { return "docker" }

func (DockerCheck) Check(ctx context.Context) (string, error) {
	if err := postgres.DockerAvailable(ctx); err != nil {
		return "", err
	}
	return "daemon reachable", nil
}

// Checks builds the checks that apply to cfg. A configured connect_url
// replaces the anvil binary check.
func Checks(cfg *config.RuntimeConfig) []usecase.PrerequisiteChecker {
	checks := []usecase.PrerequisiteChecker{
		BinaryCheck{Label: "rindexer", Path: cfg.Binary},
	}
	if cfg.Chain.ConnectURL != "" {
		checks = append(checks, RPCCheck{URL: cfg.Chain.ConnectURL})
	} else {
		checks = append(checks, BinaryCheck{Label: "anvil", Path: cfg.Chain.Anvil.Binary})
	}
	return append(checks,
		ArtifactCheck{Store: artifacts.NewStore(cfg.ArtifactsDir), Contract: project.TokenContract},
		DockerCheck{},
	)
}
