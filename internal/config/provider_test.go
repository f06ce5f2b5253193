package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

func TestProvider_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("binary", "/bin/rindexer")

	cfg, err := Provider(v)
	require.NoError(t, err)

	assert.Equal(t, "/bin/rindexer", cfg.Binary)
	assert.Equal(t, 8545, cfg.Chain.Anvil.Port)
	assert.Equal(t, uint64(31337), cfg.Chain.Anvil.ChainID)
	assert.Equal(t, 1, cfg.Chain.Anvil.BlockTime)
	assert.Equal(t, 30, cfg.Chain.ReadyAttempts)
	assert.Equal(t, time.Second, cfg.Chain.ReadyInterval)
	assert.Equal(t, domain.DefaultDevPrivateKey, cfg.Chain.PrivateKey)
	assert.Equal(t, 8080, cfg.Indexer.HealthPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Indexer.PollInterval)
	assert.Equal(t, domain.DefaultCompletionMarkers, cfg.Indexer.CompletionMarkers)
	assert.Equal(t, 2*time.Second, cfg.Feeder.TxInterval)
	assert.Equal(t, time.Second, cfg.Feeder.MineInterval)
	assert.Equal(t, 120*time.Second, cfg.ScenarioTimeout)
	assert.Empty(t, cfg.Tests)
}

func TestProvider_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "missing binary",
			mutate:  func(v *viper.Viper) { v.Set("binary", "") },
			wantErr: "binary",
		},
		{
			name:    "bad chain port",
			mutate:  func(v *viper.Viper) { v.Set("chain.port", 70000) },
			wantErr: "chain.port",
		},
		{
			name:    "zero ready attempts",
			mutate:  func(v *viper.Viper) { v.Set("chain.ready_attempts", 0) },
			wantErr: "chain.ready_attempts",
		},
		{
			name:    "no markers",
			mutate:  func(v *viper.Viper) { v.Set("indexer.completion_markers", []string{}) },
			wantErr: "completion_markers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set("binary", "/bin/rindexer")
			tt.mutate(v)

			_, err := Provider(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupViper_EnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("RINDEXER_E2E_INDEXER_HEALTH_PORT=9090\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("RINDEXER_E2E_INDEXER_HEALTH_PORT") })

	t.Setenv("RINDEXER_E2E_CHAIN_PORT", "9545")

	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().String("binary", "", "")
	cmd.Flags().StringSlice("tests", nil, "")
	require.NoError(t, cmd.Flags().Set("binary", "/opt/rindexer"))
	require.NoError(t, cmd.Flags().Set("tests", "test_1_basic_connection, test_3_historic_indexing"))

	v := SetupViper(dir, cmd)
	cfg, err := Provider(v)
	require.NoError(t, err)

	assert.Equal(t, "/opt/rindexer", cfg.Binary)
	assert.Equal(t, 9545, cfg.Chain.Anvil.Port)
	assert.Equal(t, 9090, cfg.Indexer.HealthPort)
	assert.Equal(t, []string{"test_1_basic_connection", "test_3_historic_indexing"}, cfg.Tests)
}

func TestSetupViper_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "binary: /from/file\nfeeder:\n  tx_interval: 500ms\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rindexer-e2e.yaml"), []byte(content), 0o644))

	v := SetupViper(dir, nil)
	cfg, err := Provider(v)
	require.NoError(t, err)

	assert.Equal(t, "/from/file", cfg.Binary)
	assert.Equal(t, 500*time.Millisecond, cfg.Feeder.TxInterval)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a,b", " c ", ""}))
	assert.Nil(t, splitList(nil))
}
