package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fibanez/aws-dash-architect-sub001/internal/orchestrator"
	"github.com/fibanez/aws-dash-architect-sub001/internal/policy"
	"github.com/fibanez/aws-dash-architect-sub001/internal/store"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

var (
	scanScope       string
	scanOutput      string
	scanWhere       string
	scanPolicyFile  string
	scanTypes       []string
	scanAccounts    []string
	scanRegions     []string
	scanSearch      string
	scanNoPreload   bool
	scanWatch       bool
	scanMetricsAddr string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover resources in the configured scope",
	Long: `Discover every resource selected by the scope file.

Each (account, region, resource type) is listed with cheap list calls.
Once every key of a resource type has been listed, per-resource detail
calls enrich the entries. Transient failures are retried with backoff;
permanent ones are reported in the failure summary.

With --watch the scan repeats every discovery.interval, re-reading the
scope file each cycle and serving Prometheus metrics. Keys that failed
terminally are not queried again until SIGHUP or POST /-/retry-failed
asks for it.`,
	Example: `  discover scan --scope scope.yaml
  discover scan --scope scope.yaml -o json
  discover scan --scope scope.yaml --type AWS::EC2::Instance --region eu-west-1
  discover scan --scope scope.yaml --where 'input.tags.env == "prod"'
  discover scan --scope scope.yaml --policy untagged.rego
  discover scan --scope scope.yaml --watch --metrics-addr :9090`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	f := scanCmd.Flags()
	f.StringVarP(&scanScope, "scope", "s", "", "Scope file (default discovery.scope_file)")
	f.StringVarP(&scanOutput, "output", "o", "table", "Output format: table, json")
	f.StringVarP(&scanWhere, "where", "w", "", "Rego rule body evaluated against each entry")
	f.StringVar(&scanPolicyFile, "policy", "", "Rego module file defining a boolean match rule")
	f.StringSliceVarP(&scanTypes, "type", "t", nil, "Only report these resource types")
	f.StringSliceVar(&scanAccounts, "account", nil, "Only report these account ids")
	f.StringSliceVarP(&scanRegions, "region", "r", nil, "Only report these regions")
	f.StringVar(&scanSearch, "search", "", "Case-insensitive match on resource id or name")
	f.BoolVar(&scanNoPreload, "no-preload", false, "Issue credentials lazily instead of up front")
	f.BoolVar(&scanWatch, "watch", false, "Repeat discovery every discovery.interval")
	f.StringVar(&scanMetricsAddr, "metrics-addr", "", "Serve metrics and health on this address in watch mode")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if err := validateOutput(scanOutput); err != nil {
		return err
	}
	if scanWhere != "" && scanPolicyFile != "" {
		return fmt.Errorf("--where and --policy are mutually exclusive")
	}

	ctx := cmd.Context()
	if !scanWatch {
		// watch mode leaves signals to its signal handler actor
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
	}

	a, err := newApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	scopePath := scanScope
	if scopePath == "" {
		scopePath = cfg.Discovery.ScopeFile
	}

	if scanWatch {
		addr := scanMetricsAddr
		if addr == "" && cfg.Metrics.Enabled {
			addr = cfg.Metrics.Addr
		}
		return runWatch(ctx, a, scopePath, addr)
	}

	scope, err := a.loadScope(scopePath)
	if err != nil {
		return err
	}

	pred, err := compilePredicate(ctx)
	if err != nil {
		return err
	}

	if !scanNoPreload {
		ids := make([]string, len(scope.Accounts))
		for i, acc := range scope.Accounts {
			ids[i] = acc.ID
		}
		for id, err := range a.coord.Preload(ctx, ids) {
			log.Warn().Err(err).Str("account", id).Msg("credential preload failed")
		}
	}

	start := time.Now()
	results, err := a.orch.Run(ctx, scope, orchestrator.RunOptions{})
	if err != nil {
		return err
	}
	units, failed := 0, 0
	for res := range results {
		units++
		if res.Err != nil {
			failed++
		}
	}
	log.Info().
		Int("units", units).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("scan complete")
	if ctx.Err() != nil {
		return fmt.Errorf("scan interrupted: %w", ctx.Err())
	}

	entries := a.store.Snapshot(snapshotFilter())
	if pred != nil {
		if entries, err = pred.Filter(ctx, entries); err != nil {
			return err
		}
	}

	report := newScanReport(entries, a.store.StatusCounts(), a.tracker.Summary(), a.store.StaleKeys())
	if scanOutput == "json" {
		return writeJSON(os.Stdout, report)
	}
	return writeTable(os.Stdout, report)
}

func snapshotFilter() store.Filter {
	return store.Filter{
		Accounts:      scanAccounts,
		Regions:       scanRegions,
		ResourceTypes: scanTypes,
		Search:        scanSearch,
	}
}

func compilePredicate(ctx context.Context) (*policy.Predicate, error) {
	switch {
	case scanWhere != "":
		return policy.Compile(ctx, scanWhere)
	case scanPolicyFile != "":
		return policy.Load(ctx, scanPolicyFile)
	}
	return nil, nil
}

// scopeSource re-reads the scope file for every watch cycle.
func scopeSource(a *app, path string) func() (resource.Scope, error) {
	return func() (resource.Scope, error) {
		if n := a.coord.CleanupExpired(); n > 0 {
			a.logger.Debug().Int("removed", n).Msg("expired credentials dropped")
		}
		return a.loadScope(path)
	}
}
