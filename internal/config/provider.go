package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

// EnvPrefix is prepended to every environment variable the harness reads.
const EnvPrefix = "RINDEXER_E2E"

// Provider creates RuntimeConfig for Wire dependency injection
func Provider(v *viper.Viper) (*RuntimeConfig, error) {
	anvil := domain.DefaultAnvilOptions()
	anvil.Binary = v.GetString("chain.binary")
	anvil.Host = v.GetString("chain.host")
	anvil.Port = v.GetInt("chain.port")
	anvil.ChainID = v.GetUint64("chain.chain_id")
	anvil.Accounts = v.GetInt("chain.accounts")
	anvil.Balance = v.GetUint64("chain.balance")
	anvil.GasLimit = v.GetUint64("chain.gas_limit")
	anvil.GasPrice = v.GetUint64("chain.gas_price")
	anvil.BlockTime = v.GetInt("chain.block_time")
	anvil.ForkURL = v.GetString("chain.fork_url")
	anvil.ForkBlock = v.GetUint64("chain.fork_block")

	cfg := &RuntimeConfig{
		Binary:          v.GetString("binary"),
		LogLevel:        v.GetString("log_level"),
		ArtifactsDir:    v.GetString("artifacts_dir"),
		FlowsDir:        v.GetString("flows_dir"),
		WorkRoot:        v.GetString("work_root"),
		SkipCleanup:     v.GetBool("skip_cleanup"),
		SkipLive:        v.GetBool("skip_live"),
		DemoYAML:        v.GetString("demo_yaml"),
		Tests:           splitList(v.GetStringSlice("tests")),
		ScenarioTimeout: v.GetDuration("scenario_timeout"),
		Chain: ChainConfig{
			Anvil:         anvil,
			ConnectURL:    v.GetString("chain.connect_url"),
			ReapStray:     v.GetBool("chain.reap_stray"),
			ReadyAttempts: v.GetInt("chain.ready_attempts"),
			ReadyInterval: v.GetDuration("chain.ready_interval"),
			PrivateKey:    v.GetString("chain.private_key"),
		},
		Indexer: IndexerConfig{
			HealthPort:        v.GetInt("indexer.health_port"),
			GraphQLURL:        v.GetString("indexer.graphql_url"),
			PollInterval:      v.GetDuration("indexer.poll_interval"),
			StartupGrace:      v.GetDuration("indexer.startup_grace"),
			KillTimeout:       v.GetDuration("indexer.kill_timeout"),
			CompletionMarkers: v.GetStringSlice("indexer.completion_markers"),
			MirrorOutput:      v.GetBool("indexer.mirror_output"),
			PTY:               v.GetBool("indexer.pty"),
		},
		Feeder: FeederConfig{
			TxInterval:   v.GetDuration("feeder.tx_interval"),
			MineInterval: v.GetDuration("feeder.mine_interval"),
		},
		Postgres: PostgresConfig{
			Image:    v.GetString("postgres.image"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Database: v.GetString("postgres.database"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the resolved configuration is usable
func (c *RuntimeConfig) Validate() error {
	var errs []error
	if c.Binary == "" {
		errs = append(errs, errors.New("binary: path to the rindexer binary is required"))
	}
	if c.Chain.Anvil.Port <= 0 || c.Chain.Anvil.Port > 65535 {
		errs = append(errs, fmt.Errorf("chain.port: %d is not a valid port", c.Chain.Anvil.Port))
	}
	if c.Indexer.HealthPort <= 0 || c.Indexer.HealthPort > 65535 {
		errs = append(errs, fmt.Errorf("indexer.health_port: %d is not a valid port", c.Indexer.HealthPort))
	}
	if c.Chain.ReadyAttempts < 1 {
		errs = append(errs, errors.New("chain.ready_attempts: must be at least 1"))
	}
	if c.Indexer.PollInterval <= 0 {
		errs = append(errs, errors.New("indexer.poll_interval: must be positive"))
	}
	if c.Feeder.TxInterval <= 0 || c.Feeder.MineInterval <= 0 {
		errs = append(errs, errors.New("feeder: intervals must be positive"))
	}
	if len(c.Indexer.CompletionMarkers) == 0 {
		errs = append(errs, errors.New("indexer.completion_markers: at least one marker is required"))
	}
	return errors.Join(errs...)
}

// SetupViper creates and configures a viper instance
func SetupViper(workDir string, cmd *cobra.Command) *viper.Viper {
	// .env values become process env before viper reads AutomaticEnv
	_ = godotenv.Load(filepath.Join(workDir, ".env"))

	v := viper.New()

	// Set up config file
	v.SetConfigName("rindexer-e2e")
	v.SetConfigType("yaml")
	v.AddConfigPath(workDir)

	// Set up environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	SetDefaults(v)

	// Try to read config file (ignore error if not found)
	_ = v.ReadInConfig()

	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
			if err != nil {
				panic(err)
			}
		})
	}

	return v
}

// SetDefaults registers every known key with its default value
func SetDefaults(v *viper.Viper) {
	anvil := domain.DefaultAnvilOptions()

	v.SetDefault("binary", defaultBinary())
	v.SetDefault("log_level", "info")
	v.SetDefault("artifacts_dir", "abis")
	v.SetDefault("flows_dir", "test_configs")
	v.SetDefault("work_root", "")
	v.SetDefault("skip_cleanup", false)
	v.SetDefault("skip_live", false)
	v.SetDefault("demo_yaml", "test_examples/rindexer_demo_cli_anvil/rindexer.yaml")
	v.SetDefault("tests", []string{})
	v.SetDefault("scenario_timeout", "120s")

	v.SetDefault("chain.binary", anvil.Binary)
	v.SetDefault("chain.host", anvil.Host)
	v.SetDefault("chain.port", anvil.Port)
	v.SetDefault("chain.chain_id", anvil.ChainID)
	v.SetDefault("chain.accounts", anvil.Accounts)
	v.SetDefault("chain.balance", anvil.Balance)
	v.SetDefault("chain.gas_limit", anvil.GasLimit)
	v.SetDefault("chain.gas_price", anvil.GasPrice)
	v.SetDefault("chain.block_time", anvil.BlockTime)
	v.SetDefault("chain.connect_url", "")
	v.SetDefault("chain.fork_url", "")
	v.SetDefault("chain.fork_block", 0)
	v.SetDefault("chain.reap_stray", true)
	v.SetDefault("chain.ready_attempts", 30)
	v.SetDefault("chain.ready_interval", "1s")
	v.SetDefault("chain.private_key", domain.DefaultDevPrivateKey)

	v.SetDefault("indexer.health_port", 8080)
	v.SetDefault("indexer.graphql_url", domain.DefaultGraphQLURL)
	v.SetDefault("indexer.poll_interval", "250ms")
	v.SetDefault("indexer.startup_grace", "500ms")
	v.SetDefault("indexer.kill_timeout", "5s")
	v.SetDefault("indexer.completion_markers", domain.DefaultCompletionMarkers)
	v.SetDefault("indexer.mirror_output", false)
	v.SetDefault("indexer.pty", false)

	v.SetDefault("feeder.tx_interval", "2s")
	v.SetDefault("feeder.mine_interval", "1s")

	v.SetDefault("postgres.image", "postgres:16-alpine")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.database", "postgres")
}

// defaultBinary points at a sibling release build of rindexer.
func defaultBinary() string {
	if p := os.Getenv("RINDEXER_BINARY"); p != "" {
		return p
	}
	return filepath.Join("..", "rindexer", "target", "release", "rindexer_cli")
}

// splitList flattens comma separated entries, so both repeated flags and
// "--tests a,b" work.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
