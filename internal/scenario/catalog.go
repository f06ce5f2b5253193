package scenario

import (
	"context"
	"log/slog"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
)

// Scenario is a definition that runs against a harness environment.
type Scenario = Definition[*harness.TestContext]

// SuiteRunner runs scenarios against harness environments.
type SuiteRunner = Runner[*harness.TestContext]

// NewSuiteRunner builds the runner for cfg. Each scenario gets its own
// TestContext.
func NewSuiteRunner(cfg *config.RuntimeConfig, logger *slog.Logger, observer Observer) *SuiteRunner {
	return NewRunner(HarnessProvisioner(cfg, logger), RunnerOptions{
		DefaultTimeout: cfg.ScenarioTimeout,
		SkipLive:       cfg.SkipLive,
		Observer:       observer,
	}, logger)
}

// HarnessProvisioner provisions a fresh TestContext per scenario.
func HarnessProvisioner(cfg *config.RuntimeConfig, logger *slog.Logger) Provisioner[*harness.TestContext] {
	return func(ctx context.Context) (*harness.TestContext, error) {
		return harness.New(ctx, cfg, logger)
	}
}

// Builtin lists the compiled-in scenarios in execution order.
func Builtin() []Scenario {
	return []Scenario{
		{
			Name:        "test_1_basic_connection",
			Description: "Indexer connects to the chain with a minimal project",
			Timeout:     60 * time.Second,
			Run:         basicConnection,
		},
		{
			Name:        "test_2_contract_discovery",
			Description: "Indexer registers the token's events from its ABI",
			Timeout:     60 * time.Second,
			Run:         contractDiscovery,
		},
		{
			Name:        "test_3_historic_indexing",
			Description: "The deployment mint is indexed into CSV",
			Timeout:     90 * time.Second,
			Run:         historicIndexing,
		},
		{
			Name:        "test_4_crash_detection",
			Description: "An indexer that dies during startup is reported as crashed",
			Timeout:     30 * time.Second,
			Run:         crashDetection,
		},
		{
			Name:        "test_5_health_ready_and_complete",
			Description: "Health endpoint reports ready and a bounded sync completes",
			Timeout:     120 * time.Second,
			Run:         healthReadyAndComplete,
		},
		{
			Name:        "test_6_demo_yaml",
			Description: "Indexer runs the demo project adapted to the local chain",
			Timeout:     180 * time.Second,
			Run:         demoYAML,
		},
		{
			Name:        "test_7_live_indexing_basic",
			Description: "Live transfers are indexed while the feeder runs",
			Timeout:     120 * time.Second,
			Live:        true,
			Run:         liveIndexing(1, 30*time.Second),
		},
		{
			Name:        "test_8_live_indexing_high_frequency",
			Description: "Several live transfers are indexed in a row",
			Timeout:     150 * time.Second,
			Live:        true,
			Run:         liveIndexing(2, 60*time.Second),
		},
		{
			Name:        "test_9_forked_anvil",
			Description: "Indexer runs against a chain forked from chain.fork_url",
			Timeout:     300 * time.Second,
			Run:         forkedChain,
		},
		{
			Name:        "test_10_graphql_service_starts",
			Description: "GraphQL server starts next to the indexer",
			Timeout:     60 * time.Second,
			Run:         graphqlServiceStarts,
		},
		{
			Name:        "test_11_graphql_basic_query",
			Description: "Indexed transfers are served over GraphQL",
			Timeout:     180 * time.Second,
			Run:         graphqlBasicQuery,
		},
		{
			Name:        "test_12_postgres_end_to_end",
			Description: "Historic transfers land in Postgres",
			Timeout:     180 * time.Second,
			Run:         postgresEndToEnd,
		},
		{
			Name:        "test_13_postgres_live_rows",
			Description: "Live transfers to known recipients land in Postgres",
			Timeout:     240 * time.Second,
			Live:        true,
			Run:         postgresLiveRows,
		},
	}
}

// Catalog is every builtin scenario followed by one scenario per flow
// found in cfg.FlowsDir.
func Catalog(cfg *config.RuntimeConfig, logger *slog.Logger) []Scenario {
	defs := Builtin()
	for _, f := range DiscoverFlows(cfg.FlowsDir, logger) {
		defs = append(defs, f.Scenario())
	}
	return defs
}

// Source loads the catalog on demand, so flow files are read when the
// suite runs rather than when the command starts.
type Source struct {
	cfg    *config.RuntimeConfig
	logger *slog.Logger
}

func NewSource(cfg *config.RuntimeConfig, logger *slog.Logger) *Source {
	return &Source{cfg: cfg, logger: logger}
}

func (s *Source) Scenarios() []Scenario {
	return Catalog(s.cfg, s.logger)
}
