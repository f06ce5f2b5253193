package config

import (
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

// RuntimeConfig represents the complete runtime configuration
// This is injected into use cases and contains all resolved settings
type RuntimeConfig struct {
	// Core settings
	Binary       string // path to the rindexer binary under test
	LogLevel     string
	ArtifactsDir string // SimpleERC20.abi.json and SimpleERC20.bin
	FlowsDir     string // YAML test flows
	WorkRoot     string // parent for scenario work dirs, empty means os.TempDir()
	SkipCleanup  bool
	SkipLive     bool // skip scenarios that need the live feeder
	DemoYAML     string

	// Selection
	Tests           []string
	ScenarioTimeout time.Duration

	Chain    ChainConfig
	Indexer  IndexerConfig
	Feeder   FeederConfig
	Postgres PostgresConfig
}

// ChainConfig controls the anvil node used by each scenario
type ChainConfig struct {
	Anvil         domain.AnvilOptions
	ConnectURL    string // reuse an existing node instead of spawning one
	ReapStray     bool
	ReadyAttempts int
	ReadyInterval time.Duration
	PrivateKey    string
}

// IndexerConfig controls how the indexer under test is supervised
type IndexerConfig struct {
	HealthPort        int
	GraphQLURL        string
	PollInterval      time.Duration
	StartupGrace      time.Duration
	KillTimeout       time.Duration
	CompletionMarkers []string
	MirrorOutput      bool
	PTY               bool
}

// FeederConfig controls the live traffic generator
type FeederConfig struct {
	TxInterval   time.Duration
	MineInterval time.Duration
}

// PostgresConfig controls the throwaway database used by storage scenarios
type PostgresConfig struct {
	Image    string
	User     string
	Password string
	Database string
}
