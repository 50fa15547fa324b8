package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func buildAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(buildAuditListCmd())
	return cmd
}

func buildAuditListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit records for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListAuditRecords(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tRESOURCE\tSTATUS\tERROR")
			for _, r := range records {
				errMsg := r.ErrorMessage
				if errMsg == "" {
					errMsg = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format(time.RFC3339), r.Action, r.ResourceType, r.Status, errMsg)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to show")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
