package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/advisorlabs/clerk/internal/consent"
	"github.com/advisorlabs/clerk/pkg/models"
)

func buildConsentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage action consents",
	}
	cmd.AddCommand(
		buildConsentGrantCmd(),
		buildConsentRevokeCmd(),
		buildConsentListCmd(),
	)
	return cmd
}

func buildConsentGrantCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		actionType string
		scope      string
		maxPerDay  int
		hourStart  int
		hourEnd    int
		expiresIn  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant consent for a sensitive action",
		Example: `  # Allow sending email, at most 5 per day, business hours only
  clerk consent grant --user u1 --action send_email --max-per-day 5 --hour-start 9 --hour-end 17`,
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, closeStore, err := openGate(configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			var conditions *models.ConsentConditions
			if maxPerDay > 0 || hourStart >= 0 {
				conditions = &models.ConsentConditions{MaxPerDay: maxPerDay}
				if hourStart >= 0 && hourEnd >= 0 {
					conditions.AllowedHours = &models.HourWindow{Start: hourStart, End: hourEnd}
				}
			}

			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().UTC().Add(expiresIn)
				expiresAt = &t
			}

			if err := gate.Grant(cmd.Context(), userID, actionType, scope, conditions, expiresAt); err != nil {
				return err
			}
			fmt.Printf("granted %s for user %s\n", actionType, userID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&actionType, "action", "", "Action type, e.g. send_email (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "Optional scope note")
	cmd.Flags().IntVar(&maxPerDay, "max-per-day", 0, "Daily use cap (0 = unlimited)")
	cmd.Flags().IntVar(&hourStart, "hour-start", -1, "Allowed window start hour (0-23)")
	cmd.Flags().IntVar(&hourEnd, "hour-end", -1, "Allowed window end hour (0-23)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expiry relative to now, e.g. 720h")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func buildConsentRevokeCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		actionType string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke consent for a sensitive action",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, closeStore, err := openGate(configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			revoked, err := gate.Revoke(cmd.Context(), userID, actionType)
			if err != nil {
				return err
			}
			if !revoked {
				fmt.Printf("no active consent for %s\n", actionType)
				return nil
			}
			fmt.Printf("revoked %s for user %s\n", actionType, userID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&actionType, "action", "", "Action type (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func buildConsentListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's consents",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, closeStore, err := openGate(configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			consents, err := gate.List(cmd.Context(), userID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tGRANTED\tUSES\tEXPIRES\tREVOKED")
			for _, c := range consents {
				expires := "-"
				if c.ExpiresAt != nil {
					expires = c.ExpiresAt.Format(time.RFC3339)
				}
				revoked := "-"
				if c.RevokedAt != nil {
					revoked = c.RevokedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%v\t%d\t%s\t%s\n", c.ActionType, c.IsGranted, c.UseCount, expires, revoked)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// openGate opens the configured store and wraps it in a consent gate. The
// returned closer must be deferred.
func openGate(configPath string) (*consent.Gate, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := buildLogger(cfg, false)
	return consent.NewGate(store, logger), func() { _ = store.Close() }, nil
}
