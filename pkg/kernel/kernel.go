// Package kernel is the orchestrator's composition root: it wires
// every component together from configuration and drives the
// background loops until shut down.
package kernel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/kubernaut-labs/agentkernel/internal/config"
	"github.com/kubernaut-labs/agentkernel/internal/database"
	"github.com/kubernaut-labs/agentkernel/pkg/agent"
	"github.com/kubernaut-labs/agentkernel/pkg/api/httpapi"
	"github.com/kubernaut-labs/agentkernel/pkg/budget"
	"github.com/kubernaut-labs/agentkernel/pkg/hierarchy"
	"github.com/kubernaut-labs/agentkernel/pkg/notification"
	"github.com/kubernaut-labs/agentkernel/pkg/orchestration"
	"github.com/kubernaut-labs/agentkernel/pkg/policy"
	"github.com/kubernaut-labs/agentkernel/pkg/runner"
	"github.com/kubernaut-labs/agentkernel/pkg/shared/logging"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
	"github.com/kubernaut-labs/agentkernel/pkg/workflow"
	"github.com/kubernaut-labs/agentkernel/pkg/workspace"
)

// Kernel owns every long-lived component and the background loops that
// drive them.
type Kernel struct {
	cfg      *config.Config
	log      logr.Logger
	store    *store.Store
	budget   *budget.Manager
	hier     *hierarchy.Manager
	workflow *workflow.Engine
	agent    *agent.Service
	notifier *notification.Notifier
	policy   *policy.Gate
	poller   *orchestration.WorkflowPoller
	worker   *orchestration.ExecutionWorker
	httpSrv  *http.Server
}

// New wires every component from cfg. It connects to Postgres and runs
// migrations but does not start the background loops; call Start for
// that.
func New(ctx context.Context, cfg *config.Config, log logr.Logger) (*Kernel, error) {
	db, err := database.Connect(&cfg.Database, logging.NewLegacyLogger(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	var cache budget.Cache
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		cache = budget.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr}))
	}

	hier := hierarchy.New(st, cfg.Kernel.MaxDepth)
	budgetMgr := budget.New(st, cache)
	ws := workspace.New(st, cfg.Kernel.RepoDir, cfg.Kernel.WorkspaceRoot, log)

	taskRunner, err := buildRunner(ctx, cfg.Runner)
	if err != nil {
		return nil, err
	}

	agentSvc := agent.New(st, hier, budgetMgr, ws, runner.NewResilient(taskRunner), cfg.Kernel.AgentTimeout, log)

	var notifier *notification.Notifier
	if cfg.Notification.Enabled && cfg.Notification.SlackToken != "" {
		notifier = notification.New(slack.New(cfg.Notification.SlackToken), cfg.Notification.Channel)
	} else {
		notifier = notification.New(nil, "")
	}

	gate, err := policy.New(ctx, cfg.Policy.Module)
	if err != nil {
		return nil, err
	}

	var policyGate workflow.PolicyGate
	if cfg.Policy.Enabled {
		policyGate = gate
	}
	workflowEngine := workflow.New(st, agentSvc, notifier, policyGate)

	srv := httpapi.NewServer(st, budgetMgr, workflowEngine)

	return &Kernel{
		cfg:      cfg,
		log:      log,
		store:    st,
		budget:   budgetMgr,
		hier:     hier,
		workflow: workflowEngine,
		agent:    agentSvc,
		notifier: notifier,
		policy:   gate,
		poller:   orchestration.NewWorkflowPoller(st, workflowEngine, cfg.Kernel.PollInterval),
		worker:   orchestration.NewExecutionWorker(st, agentSvc, cfg.Kernel.MaxConcurrentExecutions, cfg.Kernel.PollInterval),
		httpSrv:  &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: srv, ReadHeaderTimeout: 10 * time.Second},
	}, nil
}

// buildRunner constructs the configured TaskRunner adapter from
// environment-provided credentials. The langchain provider has no
// config-driven constructor here since its backend (OpenAI, Ollama, a
// local model) varies per deployment; deployments that want it
// construct an llms.Model themselves and call runner.NewLangChainRunner
// directly instead of going through Config.
func buildRunner(ctx context.Context, cfg config.RunnerConfig) (runner.TaskRunner, error) {
	switch cfg.Provider {
	case "anthropic":
		client := anthropicsdk.NewClient()
		return runner.NewAnthropicRunner(&client.Messages, cfg.Model), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config for bedrock runner: %w", err)
		}
		rt := bedrockruntime.NewFromConfig(awsCfg)
		return runner.NewBedrockRunner(rt, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported task runner provider: %s", cfg.Provider)
	}
}

// Start runs the HTTP server and both background loops until ctx is
// cancelled, then shuts each down gracefully.
func (k *Kernel) Start(ctx context.Context) error {
	k.log.Info("starting background loops", "addr", k.httpSrv.Addr)
	g, gctx := errgroup.WithContext(ctx)

	if k.cfg.Policy.Enabled && k.cfg.Policy.BundlePath != "" {
		policyErrs, err := k.policy.WatchFile(gctx, k.cfg.Policy.BundlePath)
		if err != nil {
			return fmt.Errorf("watch policy bundle: %w", err)
		}
		g.Go(func() error {
			for err := range policyErrs {
				k.log.Error(err, "policy reload failed, keeping previous policy")
			}
			return nil
		})
	}

	g.Go(func() error { return k.poller.Run(gctx) })
	g.Go(func() error { return k.worker.Run(gctx) })
	g.Go(func() error {
		if err := k.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return k.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop closes the database pool. It is called after Start's errgroup
// has already returned, by which point ExecutionWorker.Run has drained
// its in-flight leases (bounded by its own drain timeout).
func (k *Kernel) Stop(ctx context.Context) error {
	k.log.Info("closing database pool")
	return k.store.DB().Close()
}
