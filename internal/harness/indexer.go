package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/indexer"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
)

// IndexerOption adjusts one indexer launch.
type IndexerOption func(*indexer.Options)

// WithMode selects indexer, graphql or all.
func WithMode(mode domain.IndexerMode) IndexerOption {
	return func(o *indexer.Options) { o.Mode = mode }
}

// WithEnv adds environment variables on top of the context's own.
func WithEnv(env map[string]string) IndexerOption {
	return func(o *indexer.Options) {
		if o.Env == nil {
			o.Env = map[string]string{}
		}
		maps.Copy(o.Env, env)
	}
}

// WithBinary runs a different executable in place of the configured one.
func WithBinary(path string) IndexerOption {
	return func(o *indexer.Options) { o.Binary = path }
}

func (tc *TestContext) indexerOptions(opts []IndexerOption) indexer.Options {
	o := indexer.Options{
		Binary:       tc.cfg.Binary,
		ProjectDir:   tc.ProjectDir,
		Mode:         domain.IndexerOnly,
		Env:          maps.Clone(tc.env),
		Markers:      tc.cfg.Indexer.CompletionMarkers,
		PollInterval: tc.cfg.Indexer.PollInterval,
		StartupGrace: tc.cfg.Indexer.StartupGrace,
		KillTimeout:  tc.cfg.Indexer.KillTimeout,
		Mirror:       tc.mirror,
		PTY:          tc.cfg.Indexer.PTY,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// StartIndexer writes p, when given, and launches the primary indexer.
func (tc *TestContext) StartIndexer(ctx context.Context, p *project.Project, opts ...IndexerOption) error {
	if tc.indexer != nil {
		return errors.New("indexer already started in this context")
	}
	if p != nil {
		if err := tc.WriteProject(p); err != nil {
			return err
		}
	}
	s, err := indexer.Start(ctx, tc.indexerOptions(opts), tc.logger)
	if err != nil {
		return err
	}
	tc.indexer = s
	return nil
}

// StartAdditionalIndexer launches another process against the same
// project, typically a GraphQL server next to the primary indexer.
func (tc *TestContext) StartAdditionalIndexer(ctx context.Context, opts ...IndexerOption) (*indexer.Supervisor, error) {
	s, err := indexer.Start(ctx, tc.indexerOptions(opts), tc.logger)
	if err != nil {
		return nil, err
	}
	tc.extra = append(tc.extra, s)
	return s, nil
}

// Indexer is the primary indexer, or nil before StartIndexer.
func (tc *TestContext) Indexer() *indexer.Supervisor { return tc.indexer }

// RestartIndexer replaces the primary indexer with a fresh process.
func (tc *TestContext) RestartIndexer(ctx context.Context) error {
	if tc.indexer == nil {
		return domain.ErrNotRunning
	}
	s, err := tc.indexer.Restart(ctx)
	if err != nil {
		return err
	}
	tc.indexer = s
	return nil
}

// IsIndexerRunning reports whether the primary indexer is alive.
func (tc *TestContext) IsIndexerRunning() bool {
	return tc.indexer != nil && tc.indexer.IsRunning()
}

// WaitForSyncCompletion waits for the indexer's historic sync marker.
func (tc *TestContext) WaitForSyncCompletion(ctx context.Context, timeout time.Duration) error {
	if tc.indexer == nil {
		return domain.ErrNotRunning
	}
	if err := tc.indexer.WaitForInitialSync(ctx, timeout); err != nil {
		return err
	}
	tc.logger.Info("indexer sync completed")
	return nil
}

// WaitForHealthReady prefers the health endpoint. When it never reports
// ready, a live, uncrashed process is accepted instead.
func (tc *TestContext) WaitForHealthReady(ctx context.Context, timeout time.Duration) error {
	if tc.indexer == nil {
		return domain.ErrNotRunning
	}
	err := tc.health.WaitForHealthy(ctx, timeout)
	if err == nil {
		tc.logger.Info("health endpoint reports ready")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	tc.logger.Warn("health endpoint not ready, falling back to process check", "error", err)
	return tc.checkAlive()
}

// WaitForIndexingComplete waits for the health endpoint to report no
// indexing work in flight.
func (tc *TestContext) WaitForIndexingComplete(ctx context.Context, timeout time.Duration) error {
	if tc.indexer == nil {
		return domain.ErrNotRunning
	}
	return tc.health.WaitForIndexingComplete(ctx, timeout)
}

// RequireIndexerRunning fails unless the primary indexer is alive.
func (tc *TestContext) RequireIndexerRunning() error {
	if tc.indexer == nil {
		return domain.ErrNotRunning
	}
	return tc.checkAlive()
}

// checkAlive converts the primary indexer's state into an error.
func (tc *TestContext) checkAlive() error {
	if status, exited := tc.indexer.ExitStatus(); exited {
		if !status.Success() {
			return &domain.IndexerCrashedError{Status: *status, Tail: tc.indexer.Tail()}
		}
		return fmt.Errorf("%w: exited with %s", domain.ErrNotRunning, status)
	}
	return nil
}
