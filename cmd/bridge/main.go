package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/config"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/golden"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/inference"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/intent"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/logging"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/policy"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/rules"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/server"
)

const describeTimeout = 10 * time.Second

var configFile string

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Hanabi policy bridge",
	Long: `Bridge between a game client and a trained Hanabi policy.

The bridge accepts one JSON message per TCP connection, normalizes the
legality mask, asks the policy for an action and answers {"action": n}.`,
	SilenceUsage: true,
	RunE:         runBridge,
}

func init() {
	d := config.Default()
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "", "Optional config file (yaml, json or toml)")

	// Listener
	f.String("host", d.Host, "Listen host")
	f.Int("port", d.Port, "Listen port")

	// Game and policy
	f.Int("players", d.Players, "Number of players the policy was trained for")
	f.String("policy", d.Policy, "Policy backend (grpc, prior)")
	f.String("policy-addr", d.PolicyAddr, "gRPC policy host address")
	f.Duration("policy-timeout", d.PolicyTimeout, "Per-call policy timeout (0 for none)")

	// Golden reference and diagnostics
	f.Bool("obs-verify", d.ObsVerify, "Compare each request against the golden reference")
	f.String("golden-json", d.GoldenJSON, "Golden reference file")
	f.String("obs-blocks", d.ObsBlocks, "Comma-separated observation block lengths for diff summaries")
	f.Bool("verify-actionmap", d.VerifyActionMap, "Attach the action-label table to the first response")
	f.Bool("mask-log", d.MaskLog, "Start with verbose mask logging on")
	f.Int("intent-topk", d.IntentTopK, "Alternatives reported in intent logs")
	f.Float64("intent-safe-threshold", d.IntentSafeThreshold, "Confidence at which plays and discards count as safe")
	f.Bool("audit-legality", d.AuditLegality, "Recompute legality from the observation and log disagreements")

	// Serving and logging
	f.Bool("concurrent", d.Concurrent, "Handle connections concurrently")
	f.Int("max-message-bytes", d.MaxMessageBytes, "Maximum inbound message size")
	f.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	f.String("log-format", d.LogFormat, "Log format (json, console)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	v := config.NewViper()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hcfg := rules.DefaultHanabiConfig()
	hcfg.Players = cfg.Players
	engine, err := rules.NewHanabi(hcfg)
	if err != nil {
		return err
	}

	p, closePolicy, err := openPolicy(ctx, cfg, engine, log)
	if err != nil {
		return err
	}
	defer closePolicy()
	if cfg.Concurrent {
		p = policy.Exclusive(p)
	}

	svc := inference.NewService(p, engine, inference.Config{
		Classifier: intent.NewClassifier(intent.Config{
			TopK:          cfg.IntentTopK,
			SafeThreshold: cfg.IntentSafeThreshold,
		}),
		Validator:     loadValidator(cfg, engine, log),
		AuditLegality: cfg.AuditLegality,
		Logger:        log,
	})

	srv := server.New(svc, engine.Labels(), server.NewSession(cfg.MaskLog), server.Config{
		AttachLabelTable: cfg.VerifyActionMap,
		Concurrent:       cfg.Concurrent,
		MaxMessageBytes:  cfg.MaxMessageBytes,
	}, log)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}

	return srv.Serve(ctx, ln)
}

// openPolicy connects the configured backend and checks its widths against
// the rule engine.
func openPolicy(ctx context.Context, cfg *config.Config, engine rules.Engine, log *zap.Logger) (policy.Policy, func(), error) {
	switch cfg.Policy {
	case config.PolicyPrior:
		p, err := policy.Uniform(engine.ObservationSize(), engine.ActionCount())
		if err != nil {
			return nil, nil, err
		}
		log.Warn("using the uniform prior policy; every decision is the first legal action")
		return p, func() {}, nil
	default:
		dctx, cancel := context.WithTimeout(ctx, describeTimeout)
		defer cancel()
		remote, err := policy.Dial(dctx, cfg.PolicyAddr, cfg.PolicyTimeout, policy.Shape{
			ObservationSize: engine.ObservationSize(),
			ActionCount:     engine.ActionCount(),
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("policy connected",
			zap.String("addr", cfg.PolicyAddr),
			zap.Int("observation_size", engine.ObservationSize()),
			zap.Int("num_actions", engine.ActionCount()),
		)
		return remote, func() { _ = remote.Close() }, nil
	}
}

// loadValidator returns nil when verification is off or the golden file
// cannot be loaded; the bridge then serves without it. A reference whose widths
// differ from the engine's is kept and logged as a warning.
func loadValidator(cfg *config.Config, engine rules.Engine, log *zap.Logger) *golden.Validator {
	if !cfg.ObsVerify {
		return nil
	}
	ref, err := golden.Load(cfg.GoldenJSON)
	if err != nil {
		log.Warn("golden reference unavailable, verification disabled", zap.Error(err))
		return nil
	}
	log.Info("golden reference loaded",
		zap.String("path", cfg.GoldenJSON),
		zap.Int("observation_len", len(ref.Observation)),
		zap.Int("legal_len", len(ref.LegalActions)),
		zap.Ints("blocks", cfg.Blocks()),
	)
	if len(ref.Observation) != engine.ObservationSize() || len(ref.LegalActions) != engine.ActionCount() {
		log.Warn("golden reference widths differ from the rule engine",
			zap.Int("observation_len", len(ref.Observation)),
			zap.Int("observation_size", engine.ObservationSize()),
			zap.Int("legal_len", len(ref.LegalActions)),
			zap.Int("num_actions", engine.ActionCount()),
		)
	}
	return golden.NewValidator(ref, cfg.Blocks())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
