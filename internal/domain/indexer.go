package domain

import "fmt"

// IndexerMode selects which services the indexer binary starts.
type IndexerMode string

const (
	IndexerOnly IndexerMode = "indexer"
	GraphQLOnly IndexerMode = "graphql"
	IndexerAll  IndexerMode = "all"
)

// Args returns the CLI arguments that start the indexer in this mode.
func (m IndexerMode) Args() []string {
	return []string{"start", string(m)}
}

// ParseIndexerMode parses a mode name.
func ParseIndexerMode(s string) (IndexerMode, error) {
	switch IndexerMode(s) {
	case IndexerOnly, GraphQLOnly, IndexerAll:
		return IndexerMode(s), nil
	case "":
		return IndexerOnly, nil
	default:
		return "", fmt.Errorf("unknown indexer mode %q", s)
	}
}

// DefaultCompletionMarkers are the stdout substrings that mean historic
// indexing finished.
var DefaultCompletionMarkers = []string{
	"COMPLETED - Finished indexing historic events",
	"100.00% progress",
	"Historical indexing complete",
}

// DefaultGraphQLURL is used when the indexer never prints its GraphQL URL.
const DefaultGraphQLURL = "http://localhost:3001/graphql"

// Postgres environment variables understood by the indexer.
const (
	EnvPostgresHost     = "POSTGRES_HOST"
	EnvPostgresPort     = "POSTGRES_PORT"
	EnvPostgresUser     = "POSTGRES_USER"
	EnvPostgresPassword = "POSTGRES_PASSWORD"
	EnvPostgresDB       = "POSTGRES_DB"
	EnvDatabaseURL      = "DATABASE_URL"
)
