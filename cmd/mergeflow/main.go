package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/mergeflow/pkg/archive"
	"github.com/zen-systems/mergeflow/pkg/config"
	"github.com/zen-systems/mergeflow/pkg/crypto"
	"github.com/zen-systems/mergeflow/pkg/flow"
	"github.com/zen-systems/mergeflow/pkg/orchestrate"
	"github.com/zen-systems/mergeflow/pkg/provider"
	"github.com/zen-systems/mergeflow/pkg/runner"
)

var (
	flowFlag    string
	dryRunFlag  bool
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mergeflow",
		Short: "Gate-based CI orchestration for pull requests",
		Long: `Mergeflow drives change-sets through named validation flows: each gate
	runs an external tool, records evidence keyed by commit SHA, updates the
	change-set's ledger, and a routing table decides what runs next until the
	flow reaches a terminal state.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runFlowCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(flowsCmd())
	rootCmd.AddCommand(verifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFlowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-flow [change-set-id...]",
		Short: "Run a validation flow for one or more change-sets",
		Long: `Drives each change-set (owner/repo#number) through the selected flow
	until it reaches a terminal state. Exit code 0 means every change-set
	ended Merged, Ready, or Blocked with a clear reason; evidence-store
	exhaustion after bounded retries is reported as Blocked. A nonzero exit
	means an internal orchestrator error (malformed routing, no matching
	route, provider rejection at admission).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			flowName := flowFlag
			if flowName == "" {
				flowName = cfg.DefaultFlow
			}
			f, err := loadFlow(cfg, flowName)
			if err != nil {
				return err
			}

			ctx := context.Background()
			prov, err := buildProvider(ctx, cfg)
			if err != nil {
				return err
			}

			engine := &orchestrate.Engine{
				Flow:        f,
				Provider:    prov,
				Runner:      runner.NewLocalRunner(),
				Workdir:     cfg.Workdir,
				EvidenceDir: cfg.EvidenceDir,
				Concurrency: cfg.Concurrency,
				DryRun:      dryRunFlag,
				Isolate:     cfg.Isolate,
				Logger:      log,
			}

			if !dryRunFlag {
				signer, err := crypto.NewSigner(cfg.KeyDir, cfg.SigningKey)
				if err != nil {
					return fmt.Errorf("failed to load signing key: %w", err)
				}
				engine.Archive, err = archive.NewStore(cfg.ArchiveDir, signer)
				if err != nil {
					return fmt.Errorf("failed to open run archive: %w", err)
				}
			}

			results := engine.Run(ctx, args)

			var failed bool
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANGE-SET\tSTATE\tRATIONALE")
			for _, r := range results {
				if r.Err != nil {
					failed = true
					fmt.Fprintf(w, "%s\terror\t%v\n", r.ChangeSet, r.Err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ChangeSet, r.Report.Decision.State, r.Report.Decision.Rationale)
			}
			w.Flush()

			if failed {
				return fmt.Errorf("one or more flows ended with an internal error")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flowFlag, "flow", "", "flow to run (default from config)")
	cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "execute gates but skip external check/comment writes")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Validate a flow manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flow.LoadManifest(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flow %q is valid: %d gates, %d routing rules\n",
				f.Name, len(f.Gates), len(f.Routing))
			return nil
		},
	}
}

func flowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List available flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FLOW\tGATES\tSOURCE")
			builtin := flow.Integrative()
			fmt.Fprintf(w, "%s\t%d\tbuilt-in\n", builtin.Name, len(builtin.Gates))

			entries, err := os.ReadDir(cfg.FlowsDir)
			if err == nil {
				for _, e := range entries {
					if e.IsDir() {
						continue
					}
					f, err := flow.LoadManifest(cfg.FlowsDir + "/" + e.Name())
					if err != nil {
						fmt.Fprintf(w, "%s\t-\tinvalid: %v\n", e.Name(), err)
						continue
					}
					fmt.Fprintf(w, "%s\t%d\t%s\n", f.Name, len(f.Gates), e.Name())
				}
			}
			return w.Flush()
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [record.json...]",
		Short: "Verify archived run records",
		Long: `Checks each archived run record's document hash and ed25519 signature
	against the local key directory. A record that fails verification has been
	altered since it was archived.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			var failed bool
			for _, path := range args {
				rec, err := archive.Load(path)
				if err != nil {
					failed = true
					fmt.Fprintf(cmd.OutOrStdout(), "%s: unreadable: %v\n", path, err)
					continue
				}
				if err := archive.VerifyRecord(cfg.KeyDir, rec); err != nil {
					failed = true
					fmt.Fprintf(cmd.OutOrStdout(), "%s: INVALID: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s %s @ %s, %s)\n",
					path, rec.ChangeSet, rec.Flow, rec.HeadSHA, rec.State)
			}
			if failed {
				return fmt.Errorf("one or more records failed verification")
			}
			return nil
		},
	}
}

// loadFlow resolves a flow by name: a manifest in the flows directory wins,
// the built-in integrative flow is the fallback.
func loadFlow(cfg *config.Config, name string) (*flow.Flow, error) {
	if path := cfg.FlowManifestPath(name); path != "" {
		return flow.LoadManifest(path)
	}
	if name == "integrative" {
		return flow.Integrative(), nil
	}
	return nil, fmt.Errorf("unknown flow %q: no manifest in %s", name, cfg.FlowsDir)
}

// buildProvider returns the GitHub provider, or a noop provider when no
// token is configured and the run is dry.
func buildProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	if cfg.GitHubToken == "" {
		if dryRunFlag {
			return provider.NewNoop("HEAD"), nil
		}
		return nil, fmt.Errorf("GITHUB_TOKEN not set (use --dry-run to run without a provider)")
	}
	return provider.NewGitHub(ctx, cfg.GitHubToken)
}

func newLogger() (*zap.Logger, error) {
	if verboseFlag {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
