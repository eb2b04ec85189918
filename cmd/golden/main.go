package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/config"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/golden"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/policy"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/rules"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/wire"
)

// errDrift marks a check that ran but did not pass; it exits 1, other errors 2.
var errDrift = errors.New("golden check did not pass")

var (
	configFile string
	v          = config.NewViper()
)

// #region commands

var rootCmd = &cobra.Command{
	Use:   "golden",
	Short: "Capture and check the golden reference input",
	Long: `Tools for the golden reference: a known-good observation and legality
mask together with the action the policy chose for it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.BindFlags(v, cmd.Flags())
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture <request.json>",
	Short: "Write the golden file from a recorded decision request",
	Args:  cobra.ExactArgs(1),
	RunE:  runCapture,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Replay the golden file through the policy and report drift",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Optional config file (yaml, json or toml)")
	pf.Int("players", d.Players, "Number of players the policy was trained for")
	pf.String("policy", d.Policy, "Policy backend (grpc, prior)")
	pf.String("policy-addr", d.PolicyAddr, "gRPC policy host address")
	pf.Duration("policy-timeout", d.PolicyTimeout, "Per-call policy timeout (0 for none)")
	pf.String("golden-json", d.GoldenJSON, "Golden reference file")
	pf.String("obs-blocks", d.ObsBlocks, "Comma-separated observation block lengths for diff summaries")

	checkCmd.Flags().String("live", "", "Recorded request to compare against the golden reference")
	checkCmd.Flags().String("format", "text", "Output format (text, json, yaml)")

	rootCmd.AddCommand(captureCmd, checkCmd)
}

// #endregion commands

// #region capture

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, engine, p, closePolicy, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer closePolicy()

	req, err := readRequest(args[0])
	if err != nil {
		return err
	}
	obs, err := req.Observation.Ints()
	if err != nil {
		return fmt.Errorf("request observation: %w", err)
	}
	if len(obs) != engine.ObservationSize() {
		return fmt.Errorf("request observation has %d cells, want %d", len(obs), engine.ObservationSize())
	}

	ref, err := golden.Capture(cmd.Context(), p, obs, req.LegalActions.Floats(), engine.ActionCount())
	if err != nil {
		return err
	}
	if err := golden.Save(cfg.GoldenJSON, ref); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: expected action %d %s\n",
		cfg.GoldenJSON, *ref.ExpectedAction, engine.Label(*ref.ExpectedAction))
	return nil
}

// #endregion capture

// #region check

func runCheck(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	live, _ := cmd.Flags().GetString("live")

	cfg, engine, p, closePolicy, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer closePolicy()

	ref, err := golden.Load(cfg.GoldenJSON)
	if err != nil {
		return err
	}
	res, err := golden.Check(cmd.Context(), p, ref, engine.ActionCount())
	if err != nil {
		return err
	}

	if live != "" {
		req, err := readRequest(live)
		if err != nil {
			return err
		}
		obs, err := req.Observation.Ints()
		if err != nil {
			return fmt.Errorf("live observation: %w", err)
		}
		report := golden.NewValidator(ref, cfg.Blocks()).Compare(obs, req.LegalActions.Floats())
		res.Validation = &report
	}

	if err := printResult(cmd.OutOrStdout(), format, res, engine); err != nil {
		return err
	}
	if !res.Passed() {
		return errDrift
	}
	return nil
}

func printResult(w io.Writer, format string, res golden.CheckResult, engine rules.Engine) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(res)
	case "text":
		printText(w, res, engine)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func printText(w io.Writer, res golden.CheckResult, engine rules.Engine) {
	expected := "-"
	if res.Expected != nil {
		expected = fmt.Sprintf("%d %s", *res.Expected, engine.Label(*res.Expected))
	}
	match := "OK"
	if res.Drift {
		match = "DIFF"
	}

	fmt.Fprintf(w, "%-30s| %-30s| %s\n", "Expected", "Replayed", "Match")
	fmt.Fprintf(w, "%-30s+%-31s+%s\n", strings.Repeat("-", 30), strings.Repeat("-", 31), "------")
	fmt.Fprintf(w, "%-30s| %-30s| %s\n", expected, fmt.Sprintf("%d %s", res.Action, engine.Label(res.Action)), match)
	fmt.Fprintf(w, "\nMask: %s convention, %d legal", res.Convention, res.LegalCount)
	if res.IllegalAction {
		fmt.Fprint(w, ", replayed action is ILLEGAL")
	}
	fmt.Fprintln(w)

	if r := res.Validation; r != nil {
		switch {
		case r.Match():
			fmt.Fprintln(w, "Live input: PERFECT MATCH")
		case r.ShapeMismatch:
			fmt.Fprintf(w, "Live input: shape mismatch: obs %d vs %d, legal %d vs %d\n",
				r.LiveObservationLen, r.GoldenObservationLen, r.LiveMaskLen, r.GoldenMaskLen)
		default:
			fmt.Fprintf(w, "Live input: mismatch: obs_diff=%d, legal_diff=%d\n", len(r.ObservationDiffs), len(r.MaskDiffs))
			for _, d := range r.ObservationSamples {
				fmt.Fprintf(w, "  obs[%d] live=%g golden=%g\n", d.Index, d.Live, d.Golden)
			}
			for _, b := range r.Blocks {
				mark := "OK"
				if !b.Equal() {
					mark = "DIFF"
				}
				fmt.Fprintf(w, "  %s [%d:%d) sum_live=%g sum_golden=%g -> %s\n", b.Name, b.Start, b.End, b.LiveSum, b.GoldenSum, mark)
			}
			for _, d := range r.MaskSamples {
				fmt.Fprintf(w, "  legal[%d] live=%g golden=%g\n", d.Index, d.Live, d.Golden)
			}
		}
	}
}

// #endregion check

// #region setup

func setup(ctx context.Context) (*config.Config, *rules.Hanabi, policy.Policy, func(), error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	hcfg := rules.DefaultHanabiConfig()
	hcfg.Players = cfg.Players
	engine, err := rules.NewHanabi(hcfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	shape := policy.Shape{ObservationSize: engine.ObservationSize(), ActionCount: engine.ActionCount()}
	if cfg.Policy == config.PolicyPrior {
		p, err := policy.Uniform(shape.ObservationSize, shape.ActionCount)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return cfg, engine, p, func() {}, nil
	}
	remote, err := policy.Dial(ctx, cfg.PolicyAddr, cfg.PolicyTimeout, shape)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return cfg, engine, remote, func() { _ = remote.Close() }, nil
}

func readRequest(path string) (wire.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wire.Request{}, fmt.Errorf("read request %s: %w", path, err)
	}
	req, err := wire.DecodeRequest(data)
	if err != nil {
		return wire.Request{}, fmt.Errorf("request %s: %w", path, err)
	}
	if !req.HasDecisionFields() {
		return wire.Request{}, fmt.Errorf("request %s has no observation or legal_actions", path)
	}
	return req, nil
}

// #endregion setup

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errDrift):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}
