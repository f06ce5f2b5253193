package harness

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/anvil"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
)

// InitialSupply is minted to the deployer by the test token's constructor.
var InitialSupply = new(big.Int).Mul(big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// MinimalProject indexes only the chain itself.
func (tc *TestContext) MinimalProject() *project.Project {
	return project.Minimal(tc.node.RPCURL(), tc.chainID)
}

// ContractProject indexes Transfer events of the token at addr.
func (tc *TestContext) ContractProject(addr common.Address) *project.Project {
	return project.SingleContract(tc.node.RPCURL(), tc.chainID, addr.Hex())
}

// WriteProject copies every referenced ABI into the project and writes
// rindexer.yaml.
func (tc *TestContext) WriteProject(p *project.Project) error {
	for _, c := range p.Contracts {
		if err := tc.ensureABI(c.ABI); err != nil {
			return fmt.Errorf("contract %s: %w", c.Name, err)
		}
	}
	path, err := p.Write(tc.ProjectDir)
	if err != nil {
		return err
	}
	tc.project = p
	tc.logger.Debug("project written", "path", path, "contracts", len(p.Contracts))
	return nil
}

// WriteRawProject stores data as rindexer.yaml verbatim.
func (tc *TestContext) WriteRawProject(data []byte) error {
	path := filepath.Join(tc.ProjectDir, project.FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", project.FileName, err)
	}
	tc.project = nil
	return nil
}

// Project is the last descriptor written through WriteProject.
func (tc *TestContext) Project() *project.Project { return tc.project }

// ensureABI copies the artifact an "./abis/<Name>.abi.json" reference
// points at, unless the project already has it.
func (tc *TestContext) ensureABI(ref string) error {
	if ref == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Join(tc.ProjectDir, filepath.FromSlash(ref))); err == nil {
		return nil
	}
	name := strings.TrimSuffix(filepath.Base(ref), ".abi.json")
	_, err := tc.artifacts.CopyABI(name, tc.ProjectDir)
	return err
}

// DeployTestContract deploys the test token from the configured account.
// A checkout without compiled bytecode skips the scenario.
func (tc *TestContext) DeployTestContract(ctx context.Context) (common.Address, error) {
	art, err := tc.artifacts.LoadDeployable(project.TokenContract)
	if err != nil {
		if errors.Is(err, domain.ErrNoArtifacts) {
			return common.Address{}, domain.Skip("%v", err)
		}
		return common.Address{}, err
	}
	code, err := art.CreationCode(InitialSupply)
	if err != nil {
		return common.Address{}, err
	}
	key, err := anvil.ParsePrivateKey(tc.cfg.Chain.PrivateKey)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := tc.node.DeployContract(ctx, key, code)
	if err != nil {
		return common.Address{}, err
	}
	tc.contract = &addr
	return addr, nil
}
