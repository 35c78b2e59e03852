package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbd888/assetwatch/internal/apiclient"
)

var (
	okColor     = color.New(color.FgGreen).SprintFunc()
	warnColor   = color.New(color.FgYellow).SprintFunc()
	errorColor  = color.New(color.FgRed, color.Bold).SprintFunc()
	headerColor = color.New(color.Bold).SprintFunc()
)

type globalFlags struct {
	apiURL      string
	adminSecret string
	timeout     time.Duration
	jsonOut     bool
	noColor     bool
}

// app carries state shared by every subcommand.
type app struct {
	flags  globalFlags
	out    io.Writer
	client *apiclient.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "assetctl",
		Short: "Operate an assetwatch server",
		Long: `assetctl talks to the assetwatch HTTP API.

Read commands work against any server. settle and cancel need the admin
secret, taken from --admin-secret or ASSETWATCH_ADMIN_SECRET.

Examples:
  assetctl assets
  assetctl readings 3 --limit 10
  assetctl eligibility 0x1234...
  assetctl quote 3
  assetctl settle 3 --amount 1.5`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.noColor {
				color.NoColor = true
			}
			a.client = apiclient.New(apiclient.Config{
				BaseURL:     a.flags.apiURL,
				AdminSecret: a.flags.adminSecret,
				Timeout:     a.flags.timeout,
			})
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.apiURL, "api", envOr("ASSETWATCH_API_URL", "http://localhost:8080"), "assetwatch API base URL")
	pf.StringVar(&a.flags.adminSecret, "admin-secret", os.Getenv("ASSETWATCH_ADMIN_SECRET"), "admin secret for settle, cancel and quote")
	pf.DurationVar(&a.flags.timeout, "timeout", 30*time.Second, "request timeout")
	pf.BoolVar(&a.flags.jsonOut, "json", false, "print raw JSON responses")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.priceCmd(),
		a.assetsCmd(),
		a.assetCmd(),
		a.readingsCmd(),
		a.eligibilityCmd(),
		a.snapshotsCmd(),
		a.quoteCmd(),
		a.settleCmd(),
		a.cancelCmd(),
	)
	return root
}

// emit prints v as JSON when --json is set, otherwise calls human.
func (a *app) emit(v any, human func()) error {
	if a.flags.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human()
	return nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func parseAssetID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q: must be a non-negative integer", s)
	}
	return id, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
