package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/harness"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	flowPrefix      = "flow_"
	flowTimeout     = 120 * time.Second
	basicFlowName   = "basic_sync"
	expectFailure   = "error"
	defaultSyncWait = 60
	defaultVerify   = 30

	eventsPollInterval = 500 * time.Millisecond
)

// Flow is a declarative scenario: a project descriptor plus the steps to
// run against it.
type Flow struct {
	Name    string          `yaml:"name" toml:"name"`
	Project project.Project `yaml:"rindexer_config" toml:"rindexer_config"`
	Steps   []FlowStep      `yaml:"test_steps" toml:"test_steps"`

	source  string
	loadErr error
}

// FlowStep is one action of a flow. An expected_result of "error" means the
// step must fail.
type FlowStep struct {
	Name           string         `yaml:"name" toml:"name"`
	Action         string         `yaml:"action" toml:"action"`
	Params         map[string]any `yaml:"params,omitempty" toml:"params"`
	ExpectedResult string         `yaml:"expected_result,omitempty" toml:"expected_result"`
}

type flowAction func(ctx context.Context, tc *harness.TestContext, f *flowRun, params map[string]any) error

var flowActions = map[string]flowAction{
	"deploy":        deployAction,
	"start":         startAction,
	"wait_sync":     waitSyncAction,
	"verify_events": verifyEventsAction,
	"mine":          mineAction,
	"sleep":         sleepAction,
}

// FlowActions lists the actions a flow step may use.
func FlowActions() []string {
	names := make([]string, 0, len(flowActions))
	for name := range flowActions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BasicSyncFlow deploys the test token, indexes it and expects the mint.
func BasicSyncFlow() Flow {
	p := project.SingleContract("", 0, FirstDeployAddress)
	p.Name = "basic_sync_test"
	p.NativeTransfers.Enabled = true
	return Flow{
		Name:    basicFlowName,
		Project: *p,
		Steps: []FlowStep{
			{Name: "deploy_token", Action: "deploy"},
			{Name: "start_indexing", Action: "start"},
			{Name: "wait_for_sync", Action: "wait_sync", Params: map[string]any{"target_block": 10}},
			{Name: "verify_events", Action: "verify_events", Params: map[string]any{"min": 1}},
		},
		source: "builtin",
	}
}

// DiscoverFlows loads every *.yaml, *.yml and *.toml flow in dir, sorted by
// file name. A missing or empty directory yields the basic sync flow. A
// file that fails to parse still becomes a flow, one that fails when run.
func DiscoverFlows(dir string, logger *slog.Logger) []Flow {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return []Flow{BasicSyncFlow()}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to read flows directory", "dir", dir, "error", err)
		}
		return []Flow{BasicSyncFlow()}
	}

	var flows []Flow
	for _, e := range entries {
		if e.IsDir() || !isFlowFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := LoadFlow(path)
		if err != nil {
			logger.Warn("invalid flow", "path", path, "error", err)
			f = Flow{Name: flowName(path), source: path, loadErr: err}
		}
		flows = append(flows, f)
	}
	if len(flows) == 0 {
		logger.Debug("no flows found, using the basic sync flow", "dir", dir)
		return []Flow{BasicSyncFlow()}
	}
	return flows
}

func isFlowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

func flowName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// LoadFlow parses one flow file, choosing the decoder by extension.
func LoadFlow(path string) (Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Flow{}, fmt.Errorf("failed to read flow: %w", err)
	}
	var f Flow
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &f); err != nil {
			return Flow{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &f); err != nil {
		return Flow{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = flowName(path)
	}
	f.source = path
	return f, f.Validate()
}

// Validate rejects flows that could never run.
func (f *Flow) Validate() error {
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %s has no steps", f.Name)
	}
	for i, s := range f.Steps {
		if s.Action == "" {
			return fmt.Errorf("flow %s step %d has no action", f.Name, i+1)
		}
	}
	return nil
}

// Scenario wraps the flow as a runnable scenario named flow_<name>.
func (f Flow) Scenario() Scenario {
	return Scenario{
		Name:        flowPrefix + f.Name,
		Description: fmt.Sprintf("Flow %s from %s", f.Name, f.source),
		Timeout:     flowTimeout,
		Run:         f.Run,
	}
}

// flowRun is the state of one flow execution.
type flowRun struct {
	project *project.Project
}

// Run executes the steps in order against tc, stopping at the first
// step whose outcome differs from what it expects.
func (f Flow) Run(ctx context.Context, tc *harness.TestContext) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	run := &flowRun{project: f.localProject(tc)}
	for i, step := range f.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step %d", i+1)
		}
		action, ok := flowActions[step.Action]
		if !ok {
			return fmt.Errorf("%s: unknown action %q (known: %s)", name, step.Action, strings.Join(FlowActions(), ", "))
		}

		tc.Logger().Info("flow step", "flow", f.Name, "step", name, "action", step.Action)
		err := action(ctx, tc, run, step.Params)
		if step.ExpectedResult == expectFailure {
			if err == nil {
				return fmt.Errorf("%s: expected %s to fail", name, step.Action)
			}
			tc.Logger().Info("step failed as expected", "step", name, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("%s (%s): %w", name, step.Action, err)
		}
	}
	return nil
}

// localProject copies the flow's descriptor and points it at tc's chain.
func (f Flow) localProject(tc *harness.TestContext) *project.Project {
	p := f.Project
	p.Networks = slices.Clone(f.Project.Networks)
	p.Contracts = slices.Clone(f.Project.Contracts)
	for i := range p.Contracts {
		p.Contracts[i].Details = slices.Clone(p.Contracts[i].Details)
	}
	if len(p.Networks) == 0 {
		p.Networks = []project.Network{{Name: project.DefaultNetwork}}
	}
	for i := range p.Networks {
		if p.Networks[i].ChainID == 0 {
			p.Networks[i].ChainID = tc.ChainID()
		}
	}
	return p.RewriteRPC(tc.Node().RPCURL())
}

// deployAction deploys the test token and points the flow's token
// contract at it.
func deployAction(ctx context.Context, tc *harness.TestContext, f *flowRun, _ map[string]any) error {
	addr, err := tc.DeployTestContract(ctx)
	if err != nil {
		return err
	}
	if c := f.project.Contract(project.TokenContract); c != nil {
		for i := range c.Details {
			c.Details[i].Address = addr.Hex()
		}
	}
	return nil
}

func startAction(ctx context.Context, tc *harness.TestContext, f *flowRun, params map[string]any) error {
	var opts []harness.IndexerOption
	if m, ok := params["mode"].(string); ok {
		mode, err := domain.ParseIndexerMode(m)
		if err != nil {
			return err
		}
		opts = append(opts, harness.WithMode(mode))
	}
	return tc.StartIndexer(ctx, f.project, opts...)
}

// waitSyncAction mines up to target_block, when given, and waits for the
// sync marker.
func waitSyncAction(ctx context.Context, tc *harness.TestContext, _ *flowRun, params map[string]any) error {
	target, err := intParam(params, "target_block", 0)
	if err != nil {
		return err
	}
	if target > 0 {
		head, err := tc.Node().BlockNumber(ctx)
		if err != nil {
			return err
		}
		if head < uint64(target) {
			if err := tc.Node().Mine(ctx, uint64(target)-head); err != nil {
				return err
			}
		}
	}
	secs, err := intParam(params, "timeout_secs", defaultSyncWait)
	if err != nil {
		return err
	}
	return tc.WaitForSyncCompletion(ctx, time.Duration(secs)*time.Second)
}

// verifyEventsAction waits for at least min CSV rows of contract/event
// and checks the indexer is still up.
func verifyEventsAction(ctx context.Context, tc *harness.TestContext, f *flowRun, params map[string]any) error {
	contract := stringParam(params, "contract", project.TokenContract)
	event := stringParam(params, "event", project.TransferEvent)
	minRows, err := intParam(params, "min", 0)
	if err != nil {
		return err
	}
	secs, err := intParam(params, "timeout_secs", defaultVerify)
	if err != nil {
		return err
	}

	count := 0
	if minRows > 0 {
		out := readiness.Until(ctx, func(context.Context) (bool, error) {
			n, err := tc.EventCount(contract, event)
			count = n
			return n >= int(minRows), err
		}, readiness.Options{Interval: eventsPollInterval, Timeout: time.Duration(secs) * time.Second})
		if !out.Ready() {
			if err := tc.RequireIndexerRunning(); err != nil {
				return err
			}
			return fmt.Errorf("expected at least %d %s.%s rows, have %d: %w", minRows, contract, event, count, out.Err("verify events"))
		}
	}
	if err := tc.RequireIndexerRunning(); err != nil {
		return err
	}
	tc.Logger().Info("events verified", "contract", contract, "event", event, "rows", count)
	return nil
}

func mineAction(ctx context.Context, tc *harness.TestContext, _ *flowRun, params map[string]any) error {
	blocks, err := intParam(params, "blocks", 1)
	if err != nil {
		return err
	}
	if blocks <= 0 {
		return fmt.Errorf("blocks must be positive, got %d", blocks)
	}
	return tc.Node().Mine(ctx, uint64(blocks))
}

func sleepAction(ctx context.Context, _ *harness.TestContext, _ *flowRun, params map[string]any) error {
	ms, err := intParam(params, "millis", 0)
	if err != nil {
		return err
	}
	if ms == 0 {
		secs, err := intParam(params, "seconds", 1)
		if err != nil {
			return err
		}
		ms = secs * 1000
	}
	return pause(ctx, time.Duration(ms)*time.Millisecond)
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// intParam reads an integer parameter. YAML decodes integers as int and
// TOML as int64.
func intParam(params map[string]any, key string, def int64) (int64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("param %s must be a number, got %T", key, v)
	}
}

func stringParam(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}
