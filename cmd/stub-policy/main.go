package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/logging"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/policy"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/rules"
)

var (
	listenAddr string
	players    int
	scores     []float64
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "stub-policy",
	Short: "Serve a fixed-prior policy over gRPC",
	Long: `Serves the policy gRPC service with a fixed score vector so the bridge
can be run end to end without a trained model. The chosen action is the
highest scoring legal action.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&listenAddr, "listen", "127.0.0.1:50051", "gRPC listen address")
	f.IntVar(&players, "players", 2, "Number of players; sets the observation and action widths")
	f.Float64SliceVar(&scores, "scores", nil, "Per-action scores (default uniform)")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&logFormat, "log-format", logging.FormatJSON, "Log format (json, console)")
}

func run(cmd *cobra.Command, args []string) error {
	log, err := logging.New(logLevel, logFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	hcfg := rules.DefaultHanabiConfig()
	hcfg.Players = players
	engine, err := rules.NewHanabi(hcfg)
	if err != nil {
		return err
	}
	shape := policy.Shape{ObservationSize: engine.ObservationSize(), ActionCount: engine.ActionCount()}

	var p *policy.PriorPolicy
	if len(scores) == 0 {
		p, err = policy.Uniform(shape.ObservationSize, shape.ActionCount)
	} else {
		if len(scores) != shape.ActionCount {
			return fmt.Errorf("--scores has %d values, want %d", len(scores), shape.ActionCount)
		}
		p, err = policy.NewPrior(shape.ObservationSize, scores)
	}
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	srv := grpc.NewServer()
	policy.RegisterService(srv, p, shape)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("stub policy serving",
		zap.String("addr", ln.Addr().String()),
		zap.Int("observation_size", shape.ObservationSize),
		zap.Int("num_actions", shape.ActionCount),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested")
		srv.GracefulStop()
		return nil
	})
	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
