package harness

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/process"
	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/logging"
)

const tokenAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// newChainServer answers the two calls a connected context makes.
func newChainServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = "0x7a69"
		case "eth_blockNumber":
			resp["result"] = "0x5"
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, connectURL string) *config.RuntimeConfig {
	t.Helper()
	healthPort, err := process.FreePort()
	require.NoError(t, err)
	anvil := domain.DefaultAnvilOptions()
	anvil.Binary = filepath.Join(t.TempDir(), "no-such-anvil")
	return &config.RuntimeConfig{
		Binary:       "/bin/false",
		ArtifactsDir: filepath.Join("..", "..", "abis"),
		WorkRoot:     t.TempDir(),
		Chain: config.ChainConfig{
			Anvil:         anvil,
			ConnectURL:    connectURL,
			ReadyAttempts: 3,
			ReadyInterval: 20 * time.Millisecond,
			PrivateKey:    domain.DefaultDevPrivateKey,
		},
		Indexer: config.IndexerConfig{
			HealthPort:        healthPort,
			PollInterval:      50 * time.Millisecond,
			StartupGrace:      50 * time.Millisecond,
			KillTimeout:       time.Second,
			CompletionMarkers: domain.DefaultCompletionMarkers,
		},
		Feeder: config.FeederConfig{TxInterval: time.Second, MineInterval: time.Second},
	}
}

func newContext(t *testing.T, mutate func(*config.RuntimeConfig)) *TestContext {
	t.Helper()
	cfg := testConfig(t, newChainServer(t).URL)
	if mutate != nil {
		mutate(cfg)
	}
	tc, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tc.Cleanup(context.Background()) })
	return tc
}

func fakeIndexer(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "rindexer")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestNew_ConnectedContext(t *testing.T) {
	tc := newContext(t, nil)

	assert.Equal(t, uint64(31337), tc.ChainID())
	assert.False(t, tc.Node().Owned())
	assert.True(t, strings.HasPrefix(filepath.Base(tc.WorkDir), "rindexer-e2e-"+tc.ID+"-"))
	assert.Equal(t, filepath.Join(tc.WorkDir, "test_project"), tc.ProjectDir)
	assert.DirExists(t, tc.ProjectDir)
	assert.Equal(t, filepath.Join(tc.ProjectDir, "generated_csv"), tc.CSVOutputPath())
	assert.False(t, tc.IsIndexerRunning())

	require.NoError(t, tc.Cleanup(context.Background()))
	assert.NoDirExists(t, tc.WorkDir)
	// Idempotent.
	assert.NoError(t, tc.Cleanup(context.Background()))
}

func TestNew_SkipCleanupKeepsWorkDir(t *testing.T) {
	tc := newContext(t, func(c *config.RuntimeConfig) { c.SkipCleanup = true })
	require.NoError(t, tc.Cleanup(context.Background()))
	assert.DirExists(t, tc.ProjectDir)
}

func TestNew_FallsBackToLocalNode(t *testing.T) {
	port, err := process.FreePort()
	require.NoError(t, err)
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Chain.Anvil.Port = port

	_, err = New(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
	var spawnErr *domain.SpawnError
	assert.True(t, errors.As(err, &spawnErr), "local fallback should have been attempted: %v", err)

	entries, err := os.ReadDir(cfg.WorkRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteProject_CopiesABI(t *testing.T) {
	tc := newContext(t, nil)
	p := tc.ContractProject(common.HexToAddress(tokenAddress))

	require.NoError(t, tc.WriteProject(p))
	assert.FileExists(t, filepath.Join(tc.ProjectDir, "abis", "SimpleERC20.abi.json"))
	assert.Same(t, p, tc.Project())

	loaded, err := project.Load(filepath.Join(tc.ProjectDir, project.FileName))
	require.NoError(t, err)
	assert.Equal(t, tc.Node().RPCURL(), loaded.Networks[0].RPC)
	assert.Equal(t, uint64(31337), loaded.Networks[0].ChainID)
	assert.Equal(t, tokenAddress, loaded.Contracts[0].Details[0].Address)
}

func TestWriteProject_MissingABI(t *testing.T) {
	tc := newContext(t, func(c *config.RuntimeConfig) { c.ArtifactsDir = t.TempDir() })
	err := tc.WriteProject(tc.ContractProject(common.HexToAddress(tokenAddress)))
	assert.ErrorIs(t, err, domain.ErrNoArtifacts)
	assert.NoFileExists(t, filepath.Join(tc.ProjectDir, project.FileName))
}

func TestDeployTestContract_SkipsWithoutBytecode(t *testing.T) {
	dir := t.TempDir()
	abi, err := os.ReadFile(filepath.Join("..", "..", "abis", "SimpleERC20.abi.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SimpleERC20.abi.json"), abi, 0o644))

	tc := newContext(t, func(c *config.RuntimeConfig) { c.ArtifactsDir = dir })
	_, err = tc.DeployTestContract(context.Background())
	assert.True(t, domain.IsSkip(err), "got %v", err)
	_, deployed := tc.Contract()
	assert.False(t, deployed)
}

func TestStartIndexer_PassesEnvAndDetectsSync(t *testing.T) {
	tc := newContext(t, nil)
	tc.env["POSTGRES_HOST"] = "db.local"
	bin := fakeIndexer(t, `
echo "$POSTGRES_HOST $EXTRA" > env.txt
echo "100.00% progress"
sleep 30`)

	require.NoError(t, tc.StartIndexer(context.Background(), tc.MinimalProject(),
		WithBinary(bin), WithEnv(map[string]string{"EXTRA": "yes"})))
	require.NoError(t, tc.WaitForSyncCompletion(context.Background(), 5*time.Second))
	assert.True(t, tc.IsIndexerRunning())
	assert.FileExists(t, filepath.Join(tc.ProjectDir, project.FileName))

	data, err := os.ReadFile(filepath.Join(tc.ProjectDir, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "db.local yes\n", string(data))

	assert.Error(t, tc.StartIndexer(context.Background(), nil, WithBinary(bin)))

	require.NoError(t, tc.Cleanup(context.Background()))
	assert.False(t, tc.IsIndexerRunning())
}

func TestWaits_RequireIndexer(t *testing.T) {
	tc := newContext(t, nil)
	ctx := context.Background()
	assert.ErrorIs(t, tc.WaitForSyncCompletion(ctx, time.Second), domain.ErrNotRunning)
	assert.ErrorIs(t, tc.WaitForHealthReady(ctx, time.Second), domain.ErrNotRunning)
	assert.ErrorIs(t, tc.WaitForIndexingComplete(ctx, time.Second), domain.ErrNotRunning)
	_, err := tc.WaitForNewEvents(ctx, 0, 1, time.Second)
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestWaitForHealthReady_FallsBackToLiveness(t *testing.T) {
	tc := newContext(t, nil)
	require.NoError(t, tc.StartIndexer(context.Background(), tc.MinimalProject(),
		WithBinary(fakeIndexer(t, "sleep 30"))))

	// Nothing serves /health, but the process is alive.
	assert.NoError(t, tc.WaitForHealthReady(context.Background(), 300*time.Millisecond))
}

func TestWaitForHealthReady_ReportsCrash(t *testing.T) {
	tc := newContext(t, nil)
	require.NoError(t, tc.StartIndexer(context.Background(), tc.MinimalProject(),
		WithBinary(fakeIndexer(t, "sleep 0.2\necho boom >&2\nexit 3"))))

	err := tc.WaitForHealthReady(context.Background(), time.Second)
	var crashed *domain.IndexerCrashedError
	require.ErrorAs(t, err, &crashed)
	assert.Equal(t, 3, crashed.Status.Code)
	assert.Contains(t, crashed.Tail, "boom")
}

func TestWaitForHealthReady_UsesHealthEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"t",
			"services":{"database":"healthy","indexing":"healthy","sync":"healthy"}}`))
	}))
	t.Cleanup(server.Close)
	port := server.Listener.Addr().(*net.TCPAddr).Port

	tc := newContext(t, func(c *config.RuntimeConfig) { c.Indexer.HealthPort = port })
	require.NoError(t, tc.StartIndexer(context.Background(), tc.MinimalProject(),
		WithBinary(fakeIndexer(t, "sleep 30"))))
	assert.NoError(t, tc.WaitForHealthReady(context.Background(), 2*time.Second))
}

const transferCSV = "generated_csv/SimpleERC20/simpleerc20-transfer.csv"

func TestWaitForNewEvents(t *testing.T) {
	tc := newContext(t, nil)
	bin := fakeIndexer(t, `
mkdir -p generated_csv/SimpleERC20
echo "contract_address,from,to,value" > `+transferCSV+`
echo "COMPLETED - Finished indexing historic events"
i=0
while [ $i -lt 50 ]; do
  echo "0xabc,0x0000000000000000000000000000000000000000,0xdef,$i" >> `+transferCSV+`
  i=$((i+1))
  sleep 0.1
done
sleep 30`)

	require.NoError(t, tc.StartIndexer(context.Background(), tc.MinimalProject(), WithBinary(bin)))
	require.NoError(t, tc.WaitForSyncCompletion(context.Background(), 5*time.Second))

	baseline, err := tc.EventCount(project.TokenContract, project.TransferEvent)
	require.NoError(t, err)

	final, err := tc.WaitForNewEvents(context.Background(), baseline, 3, 10*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, final, baseline+3)

	header, rows, err := tc.EventRows(project.TokenContract, project.TransferEvent)
	require.NoError(t, err)
	assert.Equal(t, []string{"contract_address", "from", "to", "value"}, header)
	require.NotEmpty(t, rows)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", rows[0][1])
}

func TestWaitForNewEvents_Timeout(t *testing.T) {
	tc := newContext(t, nil)
	require.NoError(t, tc.StartIndexer(context.Background(), tc.MinimalProject(),
		WithBinary(fakeIndexer(t, "sleep 30"))))

	n, err := tc.WaitForNewEvents(context.Background(), 0, 1, 300*time.Millisecond)
	assert.Equal(t, 0, n)
	var timeout *domain.TimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestWaitForNewEvents_IndexerCrash(t *testing.T) {
	tc := newContext(t, nil)
	require.NoError(t, tc.StartIndexer(context.Background(), tc.MinimalProject(),
		WithBinary(fakeIndexer(t, "sleep 0.2\nexit 1"))))

	_, err := tc.WaitForNewEvents(context.Background(), 0, 1, 5*time.Second)
	var crashed *domain.IndexerCrashedError
	assert.ErrorAs(t, err, &crashed)
}

func TestEventCount_MissingFile(t *testing.T) {
	tc := newContext(t, nil)
	n, err := tc.EventCount("SimpleERC20", "Transfer")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, filepath.Join(tc.ProjectDir, transferCSV), tc.EventCSVPath("SimpleERC20", "Transfer"))
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		header []string
		rows   int
	}{
		{name: "empty", input: "", rows: 0},
		{name: "header only", input: "a,b\n", header: []string{"a", "b"}, rows: 0},
		{name: "rows", input: "a,b\n1,2\n3,4\n", header: []string{"a", "b"}, rows: 2},
		{name: "quoted comma", input: "a,b\n\"x,y\",2\n", header: []string{"a", "b"}, rows: 1},
		{name: "partial quoted tail", input: "a,b\n1,2\n\"unterminated", header: []string{"a", "b"}, rows: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, rows, err := readCSV(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.header, header)
			assert.Len(t, rows, tt.rows)
		})
	}
}
