package scenario

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/process"
	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
	"github.com/trebuchet-org/rindexer-e2e/internal/logging"
)

const yamlFlow = `name: token_sync
rindexer_config:
  name: flow_project
  project_type: no-code
  networks:
    - name: anvil
      chain_id: 1
      rpc: http://remote:8545
  storage:
    csv:
      enabled: true
  contracts:
    - name: SimpleERC20
      abi: ./abis/SimpleERC20.abi.json
      details:
        - network: anvil
          address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
          start_block: "0"
test_steps:
  - name: start
    action: start
  - name: mine_some
    action: mine
    params:
      blocks: 3
  - name: nap
    action: sleep
    params:
      millis: 10
    expected_result: ""
`

const tomlFlow = `name = "toml_flow"

[rindexer_config]
name = "toml_project"
project_type = "no-code"

[[rindexer_config.networks]]
name = "anvil"
chain_id = 31337
rpc = "http://localhost:8545"

[[test_steps]]
name = "mine"
action = "mine"
params = { blocks = 2 }
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFlow_YAML(t *testing.T) {
	f, err := LoadFlow(writeFile(t, t.TempDir(), "token.yaml", yamlFlow))
	require.NoError(t, err)

	assert.Equal(t, "token_sync", f.Name)
	assert.Equal(t, "flow_project", f.Project.Name)
	require.Len(t, f.Project.Contracts, 1)
	assert.Equal(t, "0", f.Project.Contracts[0].Details[0].StartBlock)
	require.Len(t, f.Steps, 3)
	assert.Equal(t, "mine", f.Steps[1].Action)

	blocks, err := intParam(f.Steps[1].Params, "blocks", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, blocks)
	assert.Equal(t, "flow_token_sync", f.Scenario().Name)
}

func TestLoadFlow_TOML(t *testing.T) {
	f, err := LoadFlow(writeFile(t, t.TempDir(), "toml_flow.toml", tomlFlow))
	require.NoError(t, err)

	assert.Equal(t, "toml_flow", f.Name)
	require.Len(t, f.Project.Networks, 1)
	assert.EqualValues(t, 31337, f.Project.Networks[0].ChainID)
	require.Len(t, f.Steps, 1)
	blocks, err := intParam(f.Steps[0].Params, "blocks", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, blocks)
}

func TestLoadFlow_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFlow(writeFile(t, dir, "bad.yaml", "name: [unclosed"))
	assert.Error(t, err)

	_, err = LoadFlow(writeFile(t, dir, "empty.yaml", "name: nothing\n"))
	assert.ErrorContains(t, err, "has no steps")

	_, err = LoadFlow(writeFile(t, dir, "noaction.yaml", "test_steps:\n  - name: x\n"))
	assert.ErrorContains(t, err, "has no action")
}

func TestDiscoverFlows(t *testing.T) {
	logger := logging.Discard()

	t.Run("missing dir uses basic flow", func(t *testing.T) {
		flows := DiscoverFlows(filepath.Join(t.TempDir(), "nope"), logger)
		require.Len(t, flows, 1)
		assert.Equal(t, basicFlowName, flows[0].Name)
	})

	t.Run("no flow files uses basic flow", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "README.md", "# flows")
		flows := DiscoverFlows(dir, logger)
		require.Len(t, flows, 1)
		assert.Equal(t, basicFlowName, flows[0].Name)
	})

	t.Run("loads sorted and keeps broken ones", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "b.toml", tomlFlow)
		writeFile(t, dir, "a.yaml", yamlFlow)
		writeFile(t, dir, "c.yml", "name: [")
		flows := DiscoverFlows(dir, logger)

		require.Len(t, flows, 3)
		assert.Equal(t, "token_sync", flows[0].Name)
		assert.Equal(t, "toml_flow", flows[1].Name)
		assert.Equal(t, "c", flows[2].Name)
		assert.Error(t, flows[2].Run(context.Background(), nil), "broken flow fails when run")
	})
}

func TestBasicSyncFlow(t *testing.T) {
	f := BasicSyncFlow()
	require.NoError(t, f.Validate())
	for _, s := range f.Steps {
		assert.Contains(t, flowActions, s.Action)
	}
	c := f.Project.Contract(project.TokenContract)
	require.NotNil(t, c)
	assert.Equal(t, FirstDeployAddress, c.Details[0].Address)
}

func TestIntParam(t *testing.T) {
	params := map[string]any{"i": 3, "i64": int64(4), "u": uint64(5), "f": 6.0, "s": "7"}
	for key, want := range map[string]int64{"i": 3, "i64": 4, "u": 5, "f": 6, "missing": 9} {
		got, err := intParam(params, key, 9)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}
	_, err := intParam(params, "s", 0)
	assert.Error(t, err)
}

// chainServer is a JSON-RPC stub that records anvil_mine calls.
type chainServer struct {
	*httptest.Server
	mu    sync.Mutex
	mined []json.RawMessage
}

func newChainServer(t *testing.T) *chainServer {
	t.Helper()
	cs := &chainServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     json.RawMessage   `json:"id"`
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
			resp["result"] = "0x1"
		case "anvil_mine":
			cs.mu.Lock()
			cs.mined = append(cs.mined, req.Params...)
			cs.mu.Unlock()
			resp["result"] = nil
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newHarness(t *testing.T, rpcURL string) *harness.TestContext {
	t.Helper()
	healthPort, err := process.FreePort()
	require.NoError(t, err)
	anvil := domain.DefaultAnvilOptions()
	anvil.Binary = filepath.Join(t.TempDir(), "no-such-anvil")
	cfg := &config.RuntimeConfig{
		Binary:       "/bin/false",
		ArtifactsDir: filepath.Join("..", "..", "abis"),
		WorkRoot:     t.TempDir(),
		Chain: config.ChainConfig{
			Anvil:         anvil,
			ConnectURL:    rpcURL,
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
	}
	tc, err := harness.New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tc.Cleanup(context.Background()) })
	return tc
}

func TestFlowRun(t *testing.T) {
	t.Run("mine and sleep", func(t *testing.T) {
		cs := newChainServer(t)
		tc := newHarness(t, cs.URL)
		f := Flow{Name: "chain_only", Steps: []FlowStep{
			{Name: "mine", Action: "mine", Params: map[string]any{"blocks": 4}},
			{Name: "nap", Action: "sleep", Params: map[string]any{"millis": 5}},
		}}

		require.NoError(t, f.Run(context.Background(), tc))
		cs.mu.Lock()
		defer cs.mu.Unlock()
		require.Len(t, cs.mined, 1)
		assert.Equal(t, "4", string(cs.mined[0]))
	})

	t.Run("unknown action fails", func(t *testing.T) {
		tc := newHarness(t, newChainServer(t).URL)
		f := Flow{Name: "typo", Steps: []FlowStep{{Name: "oops", Action: "explode"}}}

		err := f.Run(context.Background(), tc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown action "explode"`)
	})

	t.Run("expected failure", func(t *testing.T) {
		tc := newHarness(t, newChainServer(t).URL)
		f := Flow{Name: "negative", Steps: []FlowStep{
			{Name: "verify_without_indexer", Action: "verify_events", ExpectedResult: "error"},
		}}
		require.NoError(t, f.Run(context.Background(), tc))

		f.Steps[0].Action = "mine"
		assert.ErrorContains(t, f.Run(context.Background(), tc), "expected mine to fail")
	})

	t.Run("step error names the step", func(t *testing.T) {
		tc := newHarness(t, newChainServer(t).URL)
		f := Flow{Name: "verify", Steps: []FlowStep{{Name: "check", Action: "verify_events"}}}

		err := f.Run(context.Background(), tc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check (verify_events)")
		assert.ErrorIs(t, err, domain.ErrNotRunning)
	})

	t.Run("sleep honours cancellation", func(t *testing.T) {
		tc := newHarness(t, newChainServer(t).URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		f := Flow{Name: "sleepy", Steps: []FlowStep{{Action: "sleep", Params: map[string]any{"seconds": 30}}}}
		assert.ErrorIs(t, f.Run(ctx, tc), context.Canceled)
	})
}

func TestPause(t *testing.T) {
	start := time.Now()
	require.NoError(t, pause(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start = time.Now()
	assert.ErrorIs(t, pause(ctx, completionSettle), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), completionSettle)
}

func TestLocalProject(t *testing.T) {
	tc := newHarness(t, newChainServer(t).URL)
	f := BasicSyncFlow()

	p := f.localProject(tc)
	assert.Equal(t, tc.Node().RPCURL(), p.Networks[0].RPC)
	assert.EqualValues(t, 31337, p.Networks[0].ChainID)

	p.Contracts[0].Details[0].Address = "0xdead"
	assert.Equal(t, FirstDeployAddress, f.Project.Contracts[0].Details[0].Address, "flow descriptor must not be mutated")
}
