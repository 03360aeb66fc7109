package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	"github.com/noah-isme/mentor-trust-api/internal/repository"
	"github.com/noah-isme/mentor-trust-api/internal/service"
	"github.com/noah-isme/mentor-trust-api/pkg/config"
	"github.com/noah-isme/mentor-trust-api/pkg/database"
	"github.com/noah-isme/mentor-trust-api/pkg/logger"
)

// runtime holds what every subcommand needs once the database is reachable.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	ledger *service.AuditLedgerService
	close  func()

	pending *repository.PendingActionRepository
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "trustctl",
		Short:         "Operate the audit ledger and pending action queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "Overall command deadline")
	rootCmd.PersistentFlags().StringP("output", "o", "yaml", "Report format: yaml or json")

	rootCmd.AddCommand(
		verifyCmd(),
		sweepCmd(),
		exportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	ledger := service.NewAuditLedgerService(repository.NewAuditLedgerRepository(db), logr,
		service.WithLedgerLimits(0, cfg.Trust.VerifyMaxRange, cfg.Trust.ExportMaxRows),
	)
	return &runtime{
		cfg:     cfg,
		logger:  logr,
		ledger:  ledger,
		pending: repository.NewPendingActionRepository(db),
		close: func() {
			_ = db.Close()
			_ = logr.Sync()
		},
	}, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain and report broken links",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetInt64("start")
			end, _ := cmd.Flags().GetInt64("end")
			format, _ := cmd.Flags().GetString("output")

			ctx, cancel := commandContext(cmd)
			defer cancel()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.ledger.VerifyChain(ctx, start, end)
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), format, result); err != nil {
				return err
			}
			if !result.IsValid {
				return fmt.Errorf("chain verification failed with %d issue(s)", len(result.Issues))
			}
			return nil
		},
	}
	cmd.Flags().Int64("start", 0, "First sequence number to check (default: first record)")
	cmd.Flags().Int64("end", 0, "Last sequence number to check (default: ledger head)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending actions and purge old terminal ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			approvals := service.NewApprovalService(rt.pending, rt.ledger, service.ApprovalConfig{
				TTL:       rt.cfg.Trust.PendingTTL,
				Retention: rt.cfg.Trust.Retention,
			}, rt.logger)
			report, err := approvals.Sweep(ctx)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("output")
			return render(cmd.OutOrStdout(), format, report)
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit ledger to a CSV or PDF file",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			dest, _ := cmd.Flags().GetString("file")
			filter := models.AuditRecordFilter{}
			filter.ActorID, _ = cmd.Flags().GetString("actor")
			filter.Action, _ = cmd.Flags().GetString("action")
			filter.StartSeq, _ = cmd.Flags().GetInt64("start")
			filter.EndSeq, _ = cmd.Flags().GetInt64("end")

			ctx, cancel := commandContext(cmd)
			defer cancel()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			export, err := service.NewAuditExportService(rt.ledger, nil, nil, rt.logger).Export(ctx, filter, format)
			if err != nil {
				return err
			}
			if dest == "" {
				dest = export.Filename
			}
			if err := os.WriteFile(dest, export.Body, 0o640); err != nil {
				return fmt.Errorf("write %s: %w", dest, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d record(s) to %s\n", export.Count, dest)
			return nil
		},
	}
	cmd.Flags().String("format", service.AuditExportCSV, "Export format: csv or pdf")
	cmd.Flags().StringP("file", "f", "", "Destination path (default: generated filename)")
	cmd.Flags().String("actor", "", "Only records by this actor id")
	cmd.Flags().String("action", "", "Only records with this action")
	cmd.Flags().Int64("start", 0, "First sequence number")
	cmd.Flags().Int64("end", 0, "Last sequence number")
	return cmd
}

func render(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
