package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/graphql"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	graphqlPort         = "3001"
	graphqlAnnounceWait = 15 * time.Second
)

// transfersQuery reads the newest indexed transfers.
const transfersQuery = `query Transfers($first: Int!) {
  allTransfers(first: $first, orderBy: BLOCK_NUMBER_DESC) {
    nodes { nodeId blockNumber txHash }
  }
}`

var graphqlEnv = map[string]string{"GRAPHQL_PORT": graphqlPort, "PORT": graphqlPort}

type urlAnnouncer interface {
	WaitForGraphQLURL(ctx context.Context, timeout time.Duration) (string, bool)
}

// graphqlURL waits for the process to announce its endpoint and falls back
// to the configured URL.
func graphqlURL(ctx context.Context, tc *harness.TestContext, announcedBy urlAnnouncer) string {
	if url, ok := announcedBy.WaitForGraphQLURL(ctx, graphqlAnnounceWait); ok {
		return url
	}
	url := tc.Config().Indexer.GraphQLURL
	if url == "" {
		url = domain.DefaultGraphQLURL
	}
	tc.Logger().Warn("graphql endpoint not announced, using fallback", "url", url)
	return url
}

// graphqlServiceStarts runs a GraphQL server next to the indexer. Without
// a database the server may refuse to start, which only counts against
// the scenario when the indexer goes down with it.
func graphqlServiceStarts(ctx context.Context, tc *harness.TestContext) error {
	if err := tc.StartIndexer(ctx, tc.MinimalProject()); err != nil {
		return err
	}
	gql, err := tc.StartAdditionalIndexer(ctx, harness.WithMode(domain.GraphQLOnly), harness.WithEnv(graphqlEnv))
	if err == nil {
		url := graphqlURL(ctx, tc, gql)
		err = graphql.NewClient(url, tc.Logger()).Ping(ctx)
		if err == nil && !gql.IsRunning() {
			err = errors.New("graphql server exited after answering")
		}
	}
	if aliveErr := tc.RequireIndexerRunning(); aliveErr != nil {
		return aliveErr
	}
	if err != nil {
		tc.Logger().Warn("graphql unavailable in this environment, indexer unaffected", "error", err)
	}
	return nil
}

// graphqlBasicQuery indexes the deployment mint into Postgres and reads it
// back through the GraphQL server of an `all` process.
func graphqlBasicQuery(ctx context.Context, tc *harness.TestContext) error {
	if _, err := tc.StartPostgres(ctx); err != nil {
		return err
	}
	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	p := tc.ContractProject(addr).WithPostgres(true).WithoutCSV()
	if err := tc.StartIndexer(ctx, p, harness.WithMode(domain.IndexerAll), harness.WithEnv(graphqlEnv)); err != nil {
		return err
	}
	if err := tc.WaitForSyncCompletion(ctx, 60*time.Second); err != nil {
		return err
	}

	client := graphql.NewClient(graphqlURL(ctx, tc, tc.Indexer()), tc.Logger())
	vars := map[string]any{"first": 5}
	out := readiness.PollUntil(ctx, func(ctx context.Context) (int, error) {
		resp, err := client.Query(ctx, transfersQuery, vars)
		if err != nil {
			return 0, err
		}
		return graphql.CountNodes(resp.Data, "allTransfers")
	}, func(n int) bool { return n > 0 }, readiness.Options{
		Interval:   time.Second,
		Timeout:    60 * time.Second,
		ExitStatus: tc.Indexer().ExitStatus,
	})
	if !out.Ready() {
		if err := tc.RequireIndexerRunning(); err != nil {
			return err
		}
		return fmt.Errorf("graphql never returned transfers: %w", out.Err("graphql query"))
	}
	tc.Logger().Info("transfers served over graphql", "url", client.URL())
	return nil
}
