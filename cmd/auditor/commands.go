package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/m-pilli/aws-security-auditor/internal/checker"
	"github.com/m-pilli/aws-security-auditor/internal/config"
	"github.com/m-pilli/aws-security-auditor/internal/database"
	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/internal/notify"
	"github.com/m-pilli/aws-security-auditor/internal/scan"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
	"github.com/m-pilli/aws-security-auditor/pkg/pathutil"
)

var version = "dev"

// setupFunc loads the configuration and prepares logging. Each subcommand
// calls it once at the start of its RunE.
type setupFunc func() (*config.Config, logger.Logger, error)

func newRootCmd() *cobra.Command {
	var (
		cfgPath   string
		debug     bool
		logFormat string
	)

	root := &cobra.Command{
		Use:           "auditor",
		Short:         "Audit an AWS account for security misconfigurations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")

	setup := func() (*config.Config, logger.Logger, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		if debug {
			cfg.Logging.Debug = true
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		logger.SetupLogger(cfg.Logging.Debug, cfg.Logging.Format)
		return cfg, logger.GetGlobalLogger(), nil
	}

	root.AddCommand(
		newScanCmd(setup),
		newReportCmd(setup),
		newFindingsCmd(setup),
		newResolveCmd(setup),
		newStatsCmd(setup),
		newHistoryCmd(setup),
	)
	return root
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	path, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	return database.New(path)
}

func newScanCmd(setup setupFunc) *cobra.Command {
	var (
		scanType string
		every    time.Duration
		noAlerts bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a security scan against the configured AWS account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			st := models.ScanType(scanType)
			if !st.Valid() {
				return fmt.Errorf("unknown scan type %q (want iam, s3, ec2, or all)", scanType)
			}

			ctx := cmd.Context()

			// Resolve credentials before touching the database so a
			// misconfigured account never records a scan.
			awsCfg, err := cfg.LoadAWSConfig(ctx)
			if err != nil {
				return fmt.Errorf("loading AWS credentials: %w", err)
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					log.Error("Failed to close database", "error", closeErr)
				}
			}()

			clients := checker.NewClients(awsCfg)
			checkers := []checker.Checker{
				checker.NewIAMChecker(clients.IAM, log.With("service", "iam"), cfg.Scan.UnusedKeyDays),
				checker.NewS3Checker(clients.S3, log.With("service", "s3")),
				checker.NewEC2Checker(clients.EC2, log.With("service", "ec2")),
			}

			notifiers := []notify.Notifier{notify.NewLogNotifier(log)}
			if !noAlerts {
				notifiers = append(notifiers, notify.NewEmailNotifier(cfg.EmailConfig(), log))
			}

			orch := scan.NewOrchestrator(db, notify.NewMultiNotifier(log, notifiers...), log, checkers...)
			orch.SetMaxWorkers(cfg.Scan.MaxWorkers)
			orch.SetCheckTimeout(cfg.Scan.CheckTimeout.Std())

			runOnce := func() error {
				result, runErr := orch.Run(ctx, st)
				if runErr != nil {
					return runErr
				}
				printScanSummary(os.Stdout, result)
				return nil
			}

			if err := runOnce(); err != nil {
				return err
			}
			if every <= 0 {
				return nil
			}

			log.Info("Running periodic scans", "interval", every.String())
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := runOnce(); err != nil {
						log.Error("Periodic scan failed", "error", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&scanType, "type", "all", "Scan type: iam, s3, ec2, or all")
	cmd.Flags().DurationVar(&every, "every", 0, "Rerun the scan at this interval (0 runs once)")
	cmd.Flags().BoolVar(&noAlerts, "no-alerts", false, "Skip email alerts for this scan")
	return cmd
}

func newReportCmd(setup setupFunc) *cobra.Command {
	var (
		scanID int64
		output string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report for the latest scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			ctx := cmd.Context()

			var sc *database.Scan
			if scanID > 0 {
				sc, err = db.GetScan(ctx, scanID)
			} else {
				sc, err = db.GetLatestScan(ctx, "")
			}
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("no matching scan recorded yet")
			}
			if err != nil {
				return err
			}

			findings, err := db.GetFindings(ctx, database.FindingFilter{
				ScanID:          &sc.ID,
				IncludeResolved: true,
			})
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if output != "" {
				path, pathErr := pathutil.ValidateOutputPath(output)
				if pathErr != nil {
					return pathErr
				}
				f, createErr := os.Create(path) //nolint:gosec // path is validated above
				if createErr != nil {
					return fmt.Errorf("creating report file: %w", createErr)
				}
				defer f.Close() //nolint:errcheck
				w = f
			}

			writeReport(w, sc, findings, cfg.Scan.RiskScoreThreshold)
			if output != "" {
				fmt.Printf("Report written to %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&scanID, "scan-id", 0, "Report on a specific scan instead of the latest")
	cmd.Flags().StringVar(&output, "output", "", "Write the report to a file instead of stdout")
	return cmd
}

func newFindingsCmd(setup setupFunc) *cobra.Command {
	var (
		service         string
		severity        string
		scanID          int64
		includeResolved bool
		limit           int
	)

	cmd := &cobra.Command{
		Use:   "findings",
		Short: "List stored findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			filter := database.FindingFilter{
				IncludeResolved: includeResolved,
				Limit:           limit,
			}
			if service != "" {
				svc := models.Service(strings.ToUpper(service))
				if !svc.Valid() {
					return fmt.Errorf("unknown service %q (want iam, s3, or ec2)", service)
				}
				filter.Service = &svc
			}
			if severity != "" {
				sev := models.Severity(strings.ToLower(severity))
				if !sev.Valid() {
					return fmt.Errorf("unknown severity %q (want critical, high, medium, or low)", severity)
				}
				filter.Severity = &sev
			}
			if scanID > 0 {
				filter.ScanID = &scanID
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			findings, err := db.GetFindings(cmd.Context(), filter)
			if err != nil {
				return err
			}

			printFindingsTable(os.Stdout, findings)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Filter by service (iam, s3, ec2)")
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity (critical, high, medium, low)")
	cmd.Flags().Int64Var(&scanID, "scan-id", 0, "Filter by scan ID")
	cmd.Flags().BoolVar(&includeResolved, "all", false, "Include resolved findings")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of findings to list (0 for no limit)")
	return cmd
}

func newResolveCmd(setup setupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <finding-id>",
		Short: "Mark a finding as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid finding ID %q", args[0])
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			if err := db.ResolveFinding(cmd.Context(), id); err != nil {
				if errors.Is(err, database.ErrNotFound) {
					return fmt.Errorf("finding %d not found", id)
				}
				return err
			}

			fmt.Printf("Finding %d marked as resolved\n", id)
			return nil
		},
	}
	return cmd
}

func newStatsCmd(setup setupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show summary statistics for the findings database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			stats, err := db.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}

			printStatistics(os.Stdout, stats)
			return nil
		},
	}
	return cmd
}

func newHistoryCmd(setup setupFunc) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			scans, err := db.ListScans(cmd.Context(), limit)
			if err != nil {
				return err
			}

			printScanHistory(os.Stdout, scans)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of scans to list")
	return cmd
}

// printScanSummary renders a compact post-scan summary: scan identity,
// degraded services if any, and the severity breakdown.
func printScanSummary(w io.Writer, result *scan.Result) {
	fmt.Fprintf(w, "Scan #%d (%s) completed in %s\n", result.ScanID, result.ScanType, result.Duration.Round(time.Millisecond))
	if len(result.Degraded) > 0 {
		names := make([]string, len(result.Degraded))
		for i, svc := range result.Degraded {
			names[i] = string(svc)
		}
		fmt.Fprintf(w, "Degraded services: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "Total Findings: %d\n", result.Counts.Total())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Severity Breakdown")
	fmt.Fprintf(w, "  %-10s  %d\n", "CRITICAL", result.Counts.Critical)
	fmt.Fprintf(w, "  %-10s  %d\n", "HIGH", result.Counts.High)
	fmt.Fprintf(w, "  %-10s  %d\n", "MEDIUM", result.Counts.Medium)
	fmt.Fprintf(w, "  %-10s  %d\n", "LOW", result.Counts.Low)
}

func printFindingsTable(w io.Writer, findings []*database.StoredFinding) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return
	}

	fmt.Fprintf(w, "%-6s  %-8s  %-10s  %-4s  %-36s  %s\n", "ID", "SERVICE", "SEVERITY", "RISK", "TYPE", "RESOURCE")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, f := range findings {
		resource := f.Finding.DisplayName()
		if f.Resolved {
			resource += " (resolved)"
		}
		fmt.Fprintf(w, "%-6d  %-8s  %-10s  %-4d  %-36s  %s\n",
			f.ID,
			string(f.Finding.Service),
			strings.ToUpper(string(f.Finding.Severity)),
			f.Finding.RiskScore,
			f.Finding.Type,
			resource,
		)
	}
}

func printStatistics(w io.Writer, stats *database.Statistics) {
	fmt.Fprintf(w, "Total Scans:      %d\n", stats.TotalScans)
	fmt.Fprintf(w, "Open Findings:    %d\n", stats.TotalFindings)
	fmt.Fprintf(w, "Found This Week:  %d\n", stats.RecentFindings)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "By Severity")
	for _, sev := range models.Severities {
		fmt.Fprintf(w, "  %-10s  %d\n", strings.ToUpper(string(sev)), stats.BySeverity[sev])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "By Service")
	for _, svc := range []models.Service{models.ServiceIAM, models.ServiceS3, models.ServiceEC2} {
		fmt.Fprintf(w, "  %-10s  %d\n", string(svc), stats.ByService[svc])
	}
}

func printScanHistory(w io.Writer, scans []*database.Scan) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans recorded.")
		return
	}

	fmt.Fprintf(w, "%-6s  %-6s  %-10s  %-20s  %-10s  %s\n", "ID", "TYPE", "STATUS", "STARTED", "DURATION", "FINDINGS")
	fmt.Fprintln(w, strings.Repeat("-", 76))
	for _, sc := range scans {
		duration := "-"
		if sc.EndTime != nil {
			duration = sc.EndTime.Sub(sc.StartTime).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%-6d  %-6s  %-10s  %-20s  %-10s  %d\n",
			sc.ID,
			string(sc.ScanType),
			string(sc.Status),
			sc.StartTime.Format("2006-01-02 15:04:05"),
			duration,
			sc.FindingsCount,
		)
	}
}

// writeReport renders a full text report for one scan. Findings at or above
// the risk score threshold get a detailed section before the table.
func writeReport(w io.Writer, sc *database.Scan, findings []*database.StoredFinding, threshold int) {
	fmt.Fprintln(w, "AWS Security Audit Report")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Scan:     #%d (%s)\n", sc.ID, sc.ScanType)
	fmt.Fprintf(w, "Started:  %s\n", sc.StartTime.Format(time.RFC3339))
	if sc.EndTime != nil {
		fmt.Fprintf(w, "Duration: %s\n", sc.EndTime.Sub(sc.StartTime).Round(time.Second))
	}
	fmt.Fprintf(w, "Status:   %s\n", sc.Status)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Severity Breakdown")
	fmt.Fprintf(w, "  %-10s  %d\n", "CRITICAL", sc.Counts.Critical)
	fmt.Fprintf(w, "  %-10s  %d\n", "HIGH", sc.Counts.High)
	fmt.Fprintf(w, "  %-10s  %d\n", "MEDIUM", sc.Counts.Medium)
	fmt.Fprintf(w, "  %-10s  %d\n", "LOW", sc.Counts.Low)
	fmt.Fprintln(w)

	var high []*database.StoredFinding
	for _, f := range findings {
		if f.Finding.RiskScore >= threshold {
			high = append(high, f)
		}
	}
	if len(high) > 0 {
		fmt.Fprintf(w, "High Risk Findings (risk score >= %d)\n", threshold)
		for _, f := range high {
			fmt.Fprintf(w, "  [%2d/10] %s: %s\n", f.Finding.RiskScore, f.Finding.Type, f.Finding.Description)
			if f.Finding.Recommendation != "" {
				fmt.Fprintf(w, "          Recommendation: %s\n", f.Finding.Recommendation)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "All Findings")
	printFindingsTable(w, findings)
}
