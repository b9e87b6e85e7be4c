// Package policy gates workflow template instantiation behind an
// OPA/Rego policy, so operators can restrict which roles, depths, or
// budgets a template may request without redeploying the kernel.
package policy

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/rego"
)

// defaultModule allows every instantiation unless overridden; it exists
// so the kernel runs with policy enforcement wired in even before an
// operator supplies a custom policy.
const defaultModule = `
package kernel

default allow = true
`

// Gate evaluates an instantiation request against a compiled Rego
// policy. The compiled query is held behind an atomic.Value so
// WatchFile can hot-swap it without a lock on the Allow path.
type Gate struct {
	query atomic.Value // rego.PreparedEvalQuery
}

func compile(ctx context.Context, module string) (rego.PreparedEvalQuery, error) {
	r := rego.New(
		rego.Query("data.kernel.allow"),
		rego.Module("kernel.rego", module),
	)
	q, err := r.PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile policy module: %w", err)
	}
	return q, nil
}

// New compiles module (Rego source) into a Gate. An empty module falls
// back to an allow-all policy.
func New(ctx context.Context, module string) (*Gate, error) {
	if module == "" {
		module = defaultModule
	}
	q, err := compile(ctx, module)
	if err != nil {
		return nil, err
	}
	g := &Gate{}
	g.query.Store(q)
	return g, nil
}

// WatchFile loads the Rego module at path and, on every write to path,
// recompiles and atomically swaps the active query. It returns once the
// watcher is set up; a goroutine keeps watching until ctx is cancelled.
// A module that fails to parse or compile is logged by
// the caller (the error is returned on the channel) and the previously
// active policy stays in effect, so one bad edit to a policy file never
// takes the gate down.
func (g *Gate) WatchFile(ctx context.Context, path string) (<-chan error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	q, err := compile(ctx, string(data))
	if err != nil {
		return nil, err
	}
	g.query.Store(q)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch policy file %s: %w", path, err)
	}

	errs := make(chan error, 1)
	go func() {
		defer watcher.Close()
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					errs <- fmt.Errorf("reload policy file %s: %w", path, err)
					continue
				}
				q, err := compile(ctx, string(data))
				if err != nil {
					errs <- fmt.Errorf("recompile policy file %s: %w", path, err)
					continue
				}
				g.query.Store(q)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			}
		}
	}()
	return errs, nil
}

// Input describes an instantiation request for policy evaluation.
type Input struct {
	TemplateName string `json:"template_name"`
	Role         string `json:"role"`
	DepthLevel   int    `json:"depth_level"`
	Budget       int64  `json:"budget"`
}

// Allow evaluates in against the compiled policy, returning true only
// if data.kernel.allow evaluates to a boolean true.
func (g *Gate) Allow(ctx context.Context, in Input) (bool, error) {
	q := g.query.Load().(rego.PreparedEvalQuery)
	results, err := q.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"template_name": in.TemplateName,
		"role":          in.Role,
		"depth_level":   in.DepthLevel,
		"budget":        in.Budget,
	}))
	if err != nil {
		return false, fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}
