package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Token   string
	Format  string
	Timeout time.Duration

	// HTTP overrides the transport; tests point it at httptest servers.
	HTTP *http.Client
}

func (o *RootOptions) client() *Client {
	hc := o.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	return &Client{BaseURL: o.Server, Token: o.Token, HTTP: hc}
}

func (o *RootOptions) reqContext() (context.Context, context.CancelFunc) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (o *RootOptions) print(w io.Writer, v any) error {
	return Write(w, o.Format, v)
}

// NewRootCommand creates the syncctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	return newRoot(opts)
}

func newRoot(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the crmsync service",
		Long:  "Queue sync runs, inspect status and positions, triage sync errors and manage CRM webhook subscriptions.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("CRMSYNC_SERVER", "http://localhost:8080"), "crmsync base url")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("CRMSYNC_TOKEN"), "bearer token")
	cmd.PersistentFlags().StringVarP(&opts.Format, "output", "o", "json", "output format (json|yaml)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newErrorsCommand(opts))
	cmd.AddCommand(newWebhooksCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
