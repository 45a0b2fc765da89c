// cmd/aftersale-admin/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"aftersale/internal/pkg/bootstrap"
	"aftersale/internal/service/aftersale"
	"aftersale/internal/service/aftersale/application"
	"aftersale/internal/service/aftersale/infrastructure"

	"github.com/spf13/cobra"
)

const serviceName = "aftersale-admin"

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "aftersale-admin",
		Short:         "Operational commands for the aftersale service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(purgeAuditCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withComponents 组装一次性命令需要的组件，命令结束后释放
func withComponents(ctx context.Context, opts aftersale.Options, fn func(*aftersale.Components) error) error {
	rt, err := bootstrap.Init(serviceName)
	if err != nil {
		return err
	}
	defer rt.Shutdown(context.WithoutCancel(ctx))

	comps, err := aftersale.Build(ctx, rt, opts)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(comps)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the aftersale tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), aftersale.Options{}, func(c *aftersale.Components) error {
				if err := infrastructure.AutoMigrate(c.DB); err != nil {
					return err
				}
				fmt.Println("Migration complete")
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	var withClaimer bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one timeout sweep batch immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := aftersale.Options{KafkaEvents: true, Claimer: withClaimer}
			return withComponents(cmd.Context(), opts, func(c *aftersale.Components) error {
				report, err := c.Sweeper.Sweep(cmd.Context())
				printJSON(report)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&withClaimer, "claim", true, "claim cases before transitioning (required when sweepers are running)")
	return cmd
}

func purgeAuditCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "purge-audit",
		Short: "Delete audit entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), aftersale.Options{}, func(c *aftersale.Components) error {
				window := retention
				if window == 0 {
					window = c.Config.AuditRetention.Retention
				}
				if window <= 0 {
					return fmt.Errorf("audit retention is disabled, pass --retention")
				}
				n, err := c.Service.PurgeAudit(cmd.Context(), window)
				if err != nil {
					return err
				}
				fmt.Printf("Purged %d audit entries older than %s\n", n, window)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "retention window, defaults to service.audit_retention.retention")
	return cmd
}

func actionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions [case-id]",
		Short: "List the actions currently allowed on a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), aftersale.Options{}, func(c *aftersale.Components) error {
				actions, err := c.Service.AllowedActions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printJSON(map[string]any{"caseId": args[0], "actions": actions})
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [case-id]",
		Short: "Print the audit trail of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), aftersale.Options{}, func(c *aftersale.Components) error {
				entries, err := c.Service.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printJSON(application.NewAuditEntryViews(entries))
				return nil
			})
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
