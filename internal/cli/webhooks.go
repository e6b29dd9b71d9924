package cli

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

func newWebhooksCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Manage CRM webhook subscriptions",
	}
	cmd.AddCommand(simpleGet(opts, "list", "List webhook subscriptions", "/api/webhooks/subscriptions"))

	var events []string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register this service's receiver with the CRM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out map[string]any
			if _, err := opts.client().Call(ctx, http.MethodPost, "/api/webhooks/subscriptions", map[string]any{"events": events}, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	register.Flags().StringSliceVar(&events, "event", nil, "event names (default: configured set)")
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate <subscription-id>",
		Short: "Rotate a subscription's signing secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out map[string]any
			if _, err := opts.client().Call(ctx, http.MethodPost, "/api/webhooks/subscriptions/"+strconv.FormatUint(id, 10)+"/rotate", nil, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	})
	return cmd
}
