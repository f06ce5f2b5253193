package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const rpc = "http://127.0.0.1:8545"

func TestMinimal(t *testing.T) {
	p := Minimal(rpc, 31337)

	data, err := p.Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Equal(t, "no-code", raw["project_type"])
	assert.Equal(t, map[string]any{}, raw["config"])
	assert.NotContains(t, raw, "timestamps")
	assert.Equal(t, []any{}, raw["contracts"])

	networks := raw["networks"].([]any)
	require.Len(t, networks, 1)
	assert.Equal(t, map[string]any{"name": "anvil", "chain_id": 31337, "rpc": rpc}, networks[0])

	storage := raw["storage"].(map[string]any)
	assert.Equal(t, map[string]any{"enabled": false}, storage["postgres"])
	assert.Equal(t, map[string]any{"enabled": true}, storage["csv"])
}

func TestSingleContract(t *testing.T) {
	p := SingleContract(rpc, 31337, "0x5FbDB2315678afecb367f032d93F642f64180aa3")

	c := p.Contract(TokenContract)
	require.NotNil(t, c)
	assert.Equal(t, "./abis/SimpleERC20.abi.json", c.ABI)
	assert.Equal(t, []string{"Transfer"}, c.IncludeEvents)
	require.Len(t, c.Details, 1)
	assert.Equal(t, "0", c.Details[0].StartBlock)
	assert.Empty(t, c.Details[0].EndBlock)
	assert.Nil(t, p.Contract("Other"))

	data, err := p.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "end_block")
	assert.Contains(t, string(data), `start_block: "0"`)
}

func TestBuilders(t *testing.T) {
	p := SingleContract(rpc, 1, "0xabc").WithEndBlock(42).WithPostgres(true).RewriteRPC("http://other:1")

	assert.Equal(t, "42", p.Contracts[0].Details[0].EndBlock)
	assert.True(t, p.Storage.Postgres.Enabled)
	require.NotNil(t, p.Storage.Postgres.DropEachRun)
	assert.True(t, *p.Storage.Postgres.DropEachRun)
	assert.Equal(t, "http://other:1", p.Networks[0].RPC)

	p.WithStartBlock(7).WithoutCSV()
	assert.Equal(t, "7", p.Contracts[0].Details[0].StartBlock)
	assert.False(t, p.Storage.CSV.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Project)
		wantErr string
	}{
		{name: "valid", mutate: func(*Project) {}},
		{name: "no name", mutate: func(p *Project) { p.Name = "" }, wantErr: "name is required"},
		{name: "no networks", mutate: func(p *Project) { p.Networks = nil }, wantErr: "no networks"},
		{
			name:    "unknown network",
			mutate:  func(p *Project) { p.Contracts[0].Details[0].Network = "mainnet" },
			wantErr: `unknown network "mainnet"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SingleContract(rpc, 31337, "0xabc")
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	p := SingleContract(rpc, 31337, "0xabc").WithPostgres(false)

	path, err := p.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestWrite_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := Minimal(rpc, 1)
	p.Networks = nil

	_, err := p.Write(dir)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(statErr))
}
