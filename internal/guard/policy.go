package guard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bizpilot/insight-gateway/internal/config"
	"github.com/open-policy-agent/opa/rego"
)

// PolicyInput is the data sent to OPA for evaluating one query candidate.
// The rego gate is an optional deployment-configurable layer on top of
// the built-in checks, never a replacement for them.
type PolicyInput struct {
	Tenant    string `json:"tenant"`
	Admin     bool   `json:"admin"`
	Purpose   string `json:"purpose"`
	Statement string `json:"statement"`
}

// PolicyGate evaluates query candidates against Rego policies.
type PolicyGate struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.GuardConfig
}

// NewPolicyGate creates a policy gate. Call Load() to compile policies.
func NewPolicyGate(cfg func() config.GuardConfig) *PolicyGate {
	return &PolicyGate{cfg: cfg}
}

func (g *PolicyGate) Enabled() bool { return g.cfg().PolicyEnabled }

// Load compiles Rego modules from the configured policy path.
func (g *PolicyGate) Load() error {
	cfg := g.cfg()
	modules, err := loadRegoFiles(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found", "path", cfg.PolicyPath)
		return nil
	}
	if err := g.LoadFromModules(modules); err != nil {
		return err
	}
	slog.Info("guard policies loaded", "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from provided module sources (useful for testing).
func (g *PolicyGate) LoadFromModules(modules map[string]string) error {
	r := rego.New(
		rego.Query("[data.insight.guard.allow, data.insight.guard.reason]"),
		func() func(*rego.Rego) {
			mods := make([]func(*rego.Rego), 0, len(modules))
			for name, src := range modules {
				mods = append(mods, rego.Module(name, src))
			}
			return func(r *rego.Rego) {
				for _, m := range mods {
					m(r)
				}
			}
		}(),
	)

	prepared, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	g.mu.Lock()
	g.prepared = &prepared
	g.mu.Unlock()
	return nil
}

// Evaluate runs the policy against the given input. Fails closed when the
// gate is enabled but no policies compiled.
func (g *PolicyGate) Evaluate(ctx context.Context, input PolicyInput) (bool, string, error) {
	g.mu.RLock()
	prepared := g.prepared
	g.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	cfg := g.cfg()
	timeout := cfg.EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err), err
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	// Result is [allow, reason]
	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// loadRegoFiles reads all .rego files from the given directory.
func loadRegoFiles(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		modules[entry.Name()] = string(data)
	}
	return modules, nil
}
