// Package project models the rindexer.yaml descriptor the indexer reads
// from its working directory.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	FileName       = "rindexer.yaml"
	NoCode         = "no-code"
	DefaultNetwork = "anvil"
	TokenContract  = "SimpleERC20"
	TransferEvent  = "Transfer"
)

// Project is the root of rindexer.yaml.
type Project struct {
	Name            string          `yaml:"name" toml:"name"`
	ProjectType     string          `yaml:"project_type" toml:"project_type"`
	Config          map[string]any  `yaml:"config" toml:"config"`
	Timestamps      *bool           `yaml:"timestamps,omitempty" toml:"timestamps"`
	Networks        []Network       `yaml:"networks" toml:"networks"`
	Storage         Storage         `yaml:"storage" toml:"storage"`
	NativeTransfers NativeTransfers `yaml:"native_transfers" toml:"native_transfers"`
	Contracts       []Contract      `yaml:"contracts" toml:"contracts"`
}

type Network struct {
	Name    string `yaml:"name" toml:"name"`
	ChainID uint64 `yaml:"chain_id" toml:"chain_id"`
	RPC     string `yaml:"rpc" toml:"rpc"`
}

type Storage struct {
	Postgres PostgresStorage `yaml:"postgres" toml:"postgres"`
	CSV      CSVStorage      `yaml:"csv" toml:"csv"`
}

type PostgresStorage struct {
	Enabled     bool  `yaml:"enabled" toml:"enabled"`
	DropEachRun *bool `yaml:"drop_each_run,omitempty" toml:"drop_each_run"`
}

type CSVStorage struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

type NativeTransfers struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

type Contract struct {
	Name          string           `yaml:"name" toml:"name"`
	Details       []ContractDetail `yaml:"details" toml:"details"`
	ABI           string           `yaml:"abi,omitempty" toml:"abi"`
	IncludeEvents []string         `yaml:"include_events,omitempty" toml:"include_events"`
}

// ContractDetail binds a contract to one network. Blocks are decimal
// strings, as rindexer expects.
type ContractDetail struct {
	Network    string `yaml:"network" toml:"network"`
	Address    string `yaml:"address" toml:"address"`
	StartBlock string `yaml:"start_block" toml:"start_block"`
	EndBlock   string `yaml:"end_block,omitempty" toml:"end_block"`
}

// Minimal indexes nothing but the network itself, with CSV output on.
func Minimal(rpcURL string, chainID uint64) *Project {
	return &Project{
		Name:        "minimal_test",
		ProjectType: NoCode,
		Config:      map[string]any{},
		Networks: []Network{{
			Name:    DefaultNetwork,
			ChainID: chainID,
			RPC:     rpcURL,
		}},
		Storage:   Storage{CSV: CSVStorage{Enabled: true}},
		Contracts: []Contract{},
	}
}

// SingleContract indexes Transfer events of the test token at address from
// block 0.
func SingleContract(rpcURL string, chainID uint64, address string) *Project {
	p := Minimal(rpcURL, chainID)
	p.Name = "contract_test"
	p.Contracts = []Contract{{
		Name: TokenContract,
		Details: []ContractDetail{{
			Network:    DefaultNetwork,
			Address:    address,
			StartBlock: "0",
		}},
		ABI:           "./abis/" + TokenContract + ".abi.json",
		IncludeEvents: []string{TransferEvent},
	}}
	return p
}

// WithPostgres enables the Postgres sink.
func (p *Project) WithPostgres(dropEachRun bool) *Project {
	p.Storage.Postgres = PostgresStorage{Enabled: true, DropEachRun: &dropEachRun}
	return p
}

// WithStartBlock moves every contract detail's start to block.
func (p *Project) WithStartBlock(block uint64) *Project {
	start := strconv.FormatUint(block, 10)
	for i := range p.Contracts {
		for j := range p.Contracts[i].Details {
			p.Contracts[i].Details[j].StartBlock = start
		}
	}
	return p
}

// WithoutCSV turns the CSV sink off.
func (p *Project) WithoutCSV() *Project {
	p.Storage.CSV.Enabled = false
	return p
}

// WithEndBlock caps every contract detail at block.
func (p *Project) WithEndBlock(block uint64) *Project {
	end := strconv.FormatUint(block, 10)
	for i := range p.Contracts {
		for j := range p.Contracts[i].Details {
			p.Contracts[i].Details[j].EndBlock = end
		}
	}
	return p
}

// RewriteRPC points every network at url.
func (p *Project) RewriteRPC(url string) *Project {
	for i := range p.Networks {
		p.Networks[i].RPC = url
	}
	return p
}

// Contract returns the named contract, or nil.
func (p *Project) Contract(name string) *Contract {
	for i := range p.Contracts {
		if p.Contracts[i].Name == name {
			return &p.Contracts[i]
		}
	}
	return nil
}

// Validate catches descriptors rindexer would reject outright.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if len(p.Networks) == 0 {
		return fmt.Errorf("project %s has no networks", p.Name)
	}
	networks := make(map[string]bool, len(p.Networks))
	for _, n := range p.Networks {
		networks[n.Name] = true
	}
	for _, c := range p.Contracts {
		for _, d := range c.Details {
			if !networks[d.Network] {
				return fmt.Errorf("contract %s references unknown network %q", c.Name, d.Network)
			}
		}
	}
	return nil
}

// Marshal renders the descriptor as YAML.
func (p *Project) Marshal() ([]byte, error) {
	if p.Config == nil {
		p.Config = map[string]any{}
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", FileName, err)
	}
	return data, nil
}

// Write stores the descriptor as <dir>/rindexer.yaml and returns its path.
func (p *Project) Write(dir string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	data, err := p.Marshal()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return path, nil
}

// Load reads a descriptor from path.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &p, nil
}
