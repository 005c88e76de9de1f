// commands.go contains the cobra command definitions for agentor. Each
// builder function constructs a command and wires its flags to a
// handler; runRun and runValidate do the actual work.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentor/internal/approval"
	"github.com/haasonsaas/agentor/internal/audit"
	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/internal/backend/providers"
	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/internal/config"
	"github.com/haasonsaas/agentor/internal/gateway"
	"github.com/haasonsaas/agentor/internal/memory"
	"github.com/haasonsaas/agentor/internal/monitor"
	"github.com/haasonsaas/agentor/internal/orchestrator"
	"github.com/haasonsaas/agentor/internal/proxy"
	"github.com/haasonsaas/agentor/internal/skill"
	"github.com/haasonsaas/agentor/internal/spawner"
)

// =============================================================================
// Run Command
// =============================================================================

// buildRunCmd creates the "run" command that drives one pipeline
// session (Spec -> Coder -> Tester -> Reviewer) to completion.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		prompt     string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator pipeline for one prompt",
		Long: `Run loads the runtime configuration, wires the capability set,
audit log, hybrid memory store, approval channel, model backends, and
the Spec/Coder/Tester/Reviewer pipeline, then drives one session to
completion or deadlock.`,
		Example: `  # Run with a prompt and the default config path
  agentor run --prompt "add a retry to the HTTP client"

  # Run against a specific config file
  agentor run -c /etc/agentor/production.yaml --prompt "..."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" && len(args) > 0 {
				prompt = args[0]
			}
			if prompt == "" {
				return fmt.Errorf("a prompt is required: pass --prompt or a positional argument")
			}
			return runRun(cmd.Context(), configPath, sessionID, prompt)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentor.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Task prompt to hand to the Spec agent")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Session id tasks and memory are scoped to")

	return cmd
}

func runRun(ctx context.Context, configPath, sessionID, prompt string) error {
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	grants := capability.New()
	loadGrants(grants, capability.FileRead, cfg.Capability.FileRead)
	loadGrants(grants, capability.FileWrite, cfg.Capability.FileWrite)
	loadGrants(grants, capability.NetworkAccess, cfg.Capability.NetworkAccess)
	loadGrants(grants, capability.ShellExec, cfg.Capability.ShellExec)
	loadGrants(grants, capability.BrowserAccess, cfg.Capability.BrowserAccess)
	loadGrants(grants, capability.DatabaseQuery, cfg.Capability.DatabaseQuery)

	auditLog, err := audit.NewLog(audit.Config{
		Path:          cfg.Audit.Path,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("start audit log: %w", err)
	}
	defer auditLog.Close(ctx)

	mem, err := memory.NewStore(memory.Config{
		Path:  cfg.Memory.Path,
		Alpha: cfg.Memory.Alpha,
		K:     cfg.Memory.K,
	})
	if err != nil {
		return fmt.Errorf("start memory store: %w", err)
	}

	approvalCh, shutdownGateway, err := buildApprovalChannel(cfg.Approval, logger)
	if err != nil {
		return fmt.Errorf("start approval channel: %w", err)
	}
	if shutdownGateway != nil {
		defer shutdownGateway()
	}

	registry := skill.NewRegistry()
	if err := registry.Register(skill.NewMemoryRememberSkill(mem)); err != nil {
		return fmt.Errorf("register memory_remember: %w", err)
	}
	if err := registry.Register(skill.NewMemoryRecallSkill(mem)); err != nil {
		return fmt.Errorf("register memory_recall: %w", err)
	}
	if err := registry.Register(skill.NewApprovalRequestSkill(approvalCh, cfg.Approval.Timeout)); err != nil {
		return fmt.Errorf("register request_approval: %w", err)
	}

	mon := monitor.New(prometheus.DefaultRegisterer)

	backendByRole, err := buildBackendFactory(ctx, cfg.Backends)
	if err != nil {
		return fmt.Errorf("build backend factory: %w", err)
	}

	px := proxy.New(registry, grants)
	engine := orchestrator.New(backendByRole, px, mon, auditLog, orchestrator.DefaultRoleProfiles())
	engine.SetSpawnConfig(spawner.Config{
		MaxDepth:           cfg.Orchestrator.MaxDepth,
		MaxChildrenPerTask: cfg.Orchestrator.MaxChildrenPerTask,
	})

	result, err := engine.Run(ctx, sessionID, prompt)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	logger.Info("pipeline finished",
		"session", sessionID,
		"completed", result.Completed,
		"failed", result.Failed,
		"needs_review", result.NeedsReview,
	)
	return nil
}

func loadGrants(set *capability.Set, kind capability.Kind, patterns []string) {
	for _, p := range patterns {
		set.Grant(capability.Capability{Kind: kind, Pattern: p})
	}
}

// buildApprovalChannel selects an approval.Channel per cfg.Transport.
// "broadcast" additionally starts an HTTP server exposing the
// websocket subscription and decision endpoints, returning a shutdown
// func the caller must invoke on exit.
func buildApprovalChannel(cfg config.ApprovalConfig, logger *slog.Logger) (approval.Channel, func(), error) {
	switch cfg.Transport {
	case "", "callback":
		return approval.CallbackChannel{
			Decide: func(ctx context.Context, req approval.Request) approval.Decision {
				logger.Warn("no human approver configured, denying", "tool", req.ToolName, "reason", req.Reason)
				return approval.Decision{Approved: false, Reason: "no approver configured"}
			},
		}, nil, nil
	case "auto":
		return approval.AutoApprover{Approve: cfg.AutoApprove, Reason: "auto-approved by configuration"}, nil, nil
	case "broadcast":
		broadcastCh := approval.NewBroadcastChannel(nil)
		srv := gateway.NewServer(broadcastCh, []byte(cfg.JWTSecret), logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", srv.ServeWS)
		mux.HandleFunc("/approvals/{id}/decide", func(w http.ResponseWriter, r *http.Request) {
			srv.ServeDecision(w, r, r.PathValue("id"))
		})
		httpSrv := &http.Server{Addr: ":8089", Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("approval gateway stopped", "error", err)
			}
		}()
		return broadcastCh, func() {
			broadcastCh.Close()
			httpSrv.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown approval transport %q", cfg.Transport)
	}
}

// buildBackendFactory wires a Failover chain per cfg.Order and returns
// a BackendFactory that hands every role the same chain; roles with
// distinct model needs can be split out later without changing the
// orchestrator's contract.
func buildBackendFactory(ctx context.Context, cfg config.BackendsConfig) (orchestrator.BackendFactory, error) {
	var chain []backend.Backend
	for _, name := range cfg.Order {
		switch name {
		case "anthropic":
			if !cfg.Anthropic.Enabled {
				continue
			}
			chain = append(chain, providers.NewAnthropic(providers.AnthropicConfig{
				APIKey: cfg.Anthropic.APIKey,
				Model:  cfg.Anthropic.Model,
			}))
		case "openai":
			if !cfg.OpenAI.Enabled {
				continue
			}
			chain = append(chain, providers.NewOpenAI(providers.OpenAIConfig{
				APIKey: cfg.OpenAI.APIKey,
				Model:  cfg.OpenAI.Model,
			}))
		case "bedrock":
			if !cfg.Bedrock.Enabled {
				continue
			}
			b, err := providers.NewBedrock(ctx, providers.BedrockConfig{
				Region:  cfg.Bedrock.Region,
				ModelID: cfg.Bedrock.Model,
			})
			if err != nil {
				return nil, fmt.Errorf("init bedrock backend: %w", err)
			}
			chain = append(chain, b)
		case "gemini":
			if !cfg.Gemini.Enabled {
				continue
			}
			g, err := providers.NewGemini(ctx, providers.GeminiConfig{
				APIKey: cfg.Gemini.APIKey,
				Model:  cfg.Gemini.Model,
			})
			if err != nil {
				return nil, fmt.Errorf("init gemini backend: %w", err)
			}
			chain = append(chain, g)
		default:
			return nil, fmt.Errorf("unknown backend %q", name)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no backends enabled in backends.order")
	}

	failoverCfg := backend.DefaultFailoverConfig()
	if cfg.MaxAttemptsPerBackend > 0 {
		failoverCfg.MaxRetries = cfg.MaxAttemptsPerBackend - 1
	}
	if cfg.BackoffBaseMS > 0 {
		failoverCfg.BackoffBase = time.Duration(cfg.BackoffBaseMS) * time.Millisecond
	}
	if cfg.BackoffMaxMS > 0 {
		failoverCfg.BackoffMax = time.Duration(cfg.BackoffMaxMS) * time.Millisecond
	}
	fo := backend.NewFailover(failoverCfg, chain...)
	return func(orchestrator.Role) backend.Backend { return fo }, nil
}

// =============================================================================
// Validate Command
// =============================================================================

// buildValidateCmd creates the "validate" command, a quick config
// sanity check for CI and pre-deploy hooks.
func buildValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentor.yaml", "Path to YAML configuration file")
	return cmd
}

func runValidate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Fprintf(os.Stdout, "config OK: version=%d backends=%v\n", cfg.Version, cfg.Backends.Order)
	return nil
}
