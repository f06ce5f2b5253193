// Package postgres provisions the throwaway database used by storage
// scenarios and reads back what the indexer wrote into it.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

const (
	DefaultImage    = "postgres:16-alpine"
	DefaultUser     = "postgres"
	DefaultPassword = "postgres"
	DefaultDatabase = "postgres"

	startupTimeout = 60 * time.Second
)

// Config describes the database to provision.
type Config struct {
	Image    string
	User     string
	Password string
	Database string
}

func (c *Config) applyDefaults() {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
}

// Endpoint is where a database can be reached.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN renders a postgres:// connection string with sslmode disabled.
func (e Endpoint) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(e.User, e.Password),
		Host:     net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:     "/" + e.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// EnvOverrides is the environment the indexer reads its database settings
// from.
func (e Endpoint) EnvOverrides() map[string]string {
	return map[string]string{
		domain.EnvPostgresHost:     e.Host,
		domain.EnvPostgresPort:     strconv.Itoa(e.Port),
		domain.EnvPostgresUser:     e.User,
		domain.EnvPostgresPassword: e.Password,
		domain.EnvPostgresDB:       e.Database,
		domain.EnvDatabaseURL:      e.DSN(),
	}
}

// Container is a running postgres container.
type Container struct {
	Endpoint
	container *tcpostgres.PostgresContainer
	logger    *slog.Logger
}

type dockerClient interface {
	Health(ctx context.Context) error
	Close() error
}

var newDockerClient = func() (dockerClient, error) {
	p, err := testcontainers.NewDockerProvider()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DockerAvailable pings the Docker daemon testcontainers would use.
// testcontainers panics when it cannot locate any Docker host; that is
// reported as an error too.
func DockerAvailable(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker host not found: %v", r)
		}
	}()
	client, err := newDockerClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Health(ctx)
}

// Start runs a postgres container and waits until it accepts connections.
// A missing Docker daemon is reported as a skip.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Container, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "postgres")

	if err := DockerAvailable(ctx); err != nil {
		return nil, domain.Skip("docker is not available: %v", err)
	}

	logger.Info("starting postgres container", "image", cfg.Image)
	c, err := tcpostgres.Run(ctx,
		cfg.Image,
		tcpostgres.WithDatabase(cfg.Database),
		tcpostgres.WithUsername(cfg.User),
		tcpostgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(startupTimeout),
		),
	)
	if err != nil {
		if c != nil {
			_ = c.Terminate(context.Background())
		}
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	pc := &Container{
		Endpoint: Endpoint{
			Host:     host,
			Port:     port.Int(),
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		},
		container: c,
		logger:    logger,
	}
	logger.Info("postgres ready", "host", host, "port", pc.Port)
	return pc, nil
}

// Terminate removes the container. Safe on a nil receiver.
func (c *Container) Terminate(ctx context.Context) error {
	if c == nil || c.container == nil {
		return nil
	}
	err := c.container.Terminate(ctx)
	c.container = nil
	if err != nil {
		return fmt.Errorf("failed to terminate postgres container: %w", err)
	}
	c.logger.Info("postgres container removed")
	return nil
}
