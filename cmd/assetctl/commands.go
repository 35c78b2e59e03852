package main

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func (a *app) priceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Show the POL/USD spot price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.Price(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(p, func() {
				a.printf("%s/%s %.6f\n", p.Symbol, p.Convert, p.Price)
			})
		},
	}
}

func (a *app) assetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "List monitored assets and their detection settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.client.Assets(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(list, func() {
				a.printf("%s\n", headerColor("ID    THRESHOLD  TRIGGER  NAME"))
				for _, as := range list.Assets {
					a.printf("%-5d %9.1f  %7d  %s\n", as.ID, as.Threshold, as.TriggerCount, as.Name)
				}
			})
		},
	}
}

func (a *app) assetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "asset <id>",
		Short: "Show an asset's lifecycle status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAssetID(args[0])
			if err != nil {
				return err
			}
			as, err := a.client.Asset(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(as, func() {
				a.printf("Asset #%d  %s\n", as.AssetID, statusColor(as.Status))
				if len(as.AllowedActions) > 0 {
					a.printf("Allowed: %s\n", strings.Join(as.AllowedActions, ", "))
				}
			})
		},
	}
}

func (a *app) readingsCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "readings <id>",
		Short: "Show recent sensor readings, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAssetID(args[0])
			if err != nil {
				return err
			}
			if limit < 0 {
				return errors.New("--limit must be positive")
			}
			r, err := a.client.Readings(cmd.Context(), id, limit, cursor)
			if err != nil {
				return err
			}
			return a.emit(r, func() {
				if len(r.Readings) == 0 {
					a.printf("No readings for asset #%d\n", id)
					return
				}
				a.printf("%s\n", headerColor("TIME                  TEMP      VIB"))
				for _, rd := range r.Readings {
					a.printf("%s  %7.2f  %7.3f\n", rd.Timestamp.UTC().Format(time.RFC3339), rd.Temperature, rd.Vibration)
				}
				if r.HasMore {
					a.printf("next page: --cursor %s\n", r.NextCursor)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum readings to show (server default when 0)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	return cmd
}

func (a *app) eligibilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility <address>",
		Short: "Show a reporter's cancelled-report count and ban standing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return errors.New("invalid address: " + args[0])
			}
			e, err := a.client.Eligibility(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(e, func() {
				state := okColor("eligible")
				if !e.Eligible {
					state = errorColor("banned")
				}
				a.printf("%s  %s  cancelled=%d threshold=%d\n", e.User, state, e.Count, e.Threshold)
				if e.Degraded {
					a.printf("%s\n", warnColor("ledger unavailable, eligibility assumed"))
				}
			})
		},
	}
}

func (a *app) snapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List unreimbursed filing costs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.client.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(list, func() {
				if len(list.Snapshots) == 0 {
					a.printf("No outstanding filing costs\n")
					return
				}
				a.printf("%s\n", headerColor("ASSET  USER                                        COST_WEI              POL_USD"))
				for _, s := range list.Snapshots {
					a.printf("%-5d  %s  %-20s  %.6f\n", s.AssetID, s.User, s.CostWei, s.PolUSD)
				}
			})
		},
	}
}

func (a *app) quoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote <id>",
		Short: "Preview the settlement for an asset (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAssetID(args[0])
			if err != nil {
				return err
			}
			q, err := a.client.Quote(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(q, func() {
				a.printf("Asset #%d\n", q.AssetID)
				if q.HasSnapshot {
					a.printf("  reimburse %s  %s POL (%s wei)\n", q.User, q.UserPol, q.UserWei)
					a.printf("  price     %.6f filed, %.6f now\n", q.FilingPrice, q.CurrentPrice)
					if q.Degraded {
						a.printf("  %s\n", warnColor("price oracle unavailable, filing-time rate used"))
					}
				} else {
					a.printf("  no filing cost recorded\n")
				}
				if q.Record != nil {
					a.printf("  technician %s (record %d)\n", q.Record.Technician, q.Record.Index)
				}
				if q.Payable {
					a.printf("  %s\n", okColor("ready for payment"))
				} else {
					a.printf("  %s\n", warnColor("not ready for payment"))
				}
			})
		},
	}
}

func (a *app) settleCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "settle <id>",
		Short: "Pay the technician and reimburse the reporter (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAssetID(args[0])
			if err != nil {
				return err
			}
			if a.flags.adminSecret == "" {
				return errors.New("settle needs --admin-secret or ASSETWATCH_ADMIN_SECRET")
			}
			s, err := a.client.Settle(cmd.Context(), id, amount)
			if err != nil {
				return err
			}
			return a.emit(s, func() {
				if s.AlreadySettled {
					a.printf("%s asset #%d was already settled\n", warnColor("!"), s.AssetID)
					return
				}
				a.printf("%s settled asset #%d in %s\n", okColor("✓"), s.AssetID, s.TxHash)
				a.printf("  technician %s  %s wei\n", s.Technician, s.TechnicianWei)
				if s.UserWei != "" && s.UserWei != "0" {
					a.printf("  reporter   %s  %s wei\n", s.User, s.UserWei)
				}
				if s.Degraded {
					a.printf("  %s\n", warnColor("price oracle unavailable, filing-time rate used"))
				}
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "technician payment in POL (e.g. 1.5)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending fault as a false report (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAssetID(args[0])
			if err != nil {
				return err
			}
			if a.flags.adminSecret == "" {
				return errors.New("cancel needs --admin-secret or ASSETWATCH_ADMIN_SECRET")
			}
			c, err := a.client.CancelFault(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			return a.emit(c, func() {
				a.printf("%s cancelled fault on asset #%d in %s\n", okColor("✓"), c.AssetID, c.TxHash)
				if c.Reporter != "" {
					a.printf("  reporter %s charged a cancellation\n", c.Reporter)
				}
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the report is false")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func statusColor(status string) string {
	switch status {
	case "Operational":
		return okColor(status)
	case "Broken":
		return errorColor(status)
	default:
		return warnColor(status)
	}
}
