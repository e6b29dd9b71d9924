package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Queue runs and inspect sync state",
	}
	cmd.AddCommand(newSyncRunCommand(opts))
	cmd.AddCommand(newSyncPushCommand(opts))
	cmd.AddCommand(simpleGet(opts, "status", "Show the current run and the next scheduled one", "/api/sync/status"))
	cmd.AddCommand(simpleGet(opts, "queue-counts", "Show pending entities and error counts", "/api/sync/queue-counts"))
	cmd.AddCommand(simpleGet(opts, "positions", "Show pull cursors and push watermarks", "/api/sync/positions"))
	cmd.AddCommand(newRunsCommand(opts))
	return cmd
}

func newSyncRunCommand(opts *RootOptions) *cobra.Command {
	var strategies []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Queue an aggregate sync run",
		Long: `Queue an aggregate sync run. When a run is already active the
service answers with that run instead of starting another.

Examples:
  syncctl sync run
  syncctl sync run --strategy account --strategy opportunity`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out map[string]any
			if _, err := opts.client().Call(ctx, http.MethodPost, "/api/sync", map[string]any{"strategies": strategies}, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVarP(&strategies, "strategy", "s", nil, "strategy names (default all)")
	return cmd
}

func newSyncPushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <entity-type> <id>",
		Short: "Queue a targeted push of one local entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid id %q", args[1])
			}
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out map[string]any
			path := "/api/sync/models/" + url.PathEscape(args[0]) + "/" + strconv.FormatUint(id, 10)
			if _, err := opts.client().Call(ctx, http.MethodPost, path, nil, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}

func newRunsCommand(opts *RootOptions) *cobra.Command {
	var (
		limit       int
		offset      int
		status      string
		triggeredBy string
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List aggregate runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.reqContext()
			defer cancel()
			if len(args) == 1 {
				var out map[string]any
				if _, err := opts.client().Call(ctx, http.MethodGet, "/api/sync/runs/"+url.PathEscape(args[0]), nil, &out); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), out)
			}
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if status != "" {
				q.Set("status", status)
			}
			if triggeredBy != "" {
				q.Set("triggered_by", triggeredBy)
			}
			return listing(cmd, opts, "/api/sync/runs?"+q.Encode())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&triggeredBy, "triggered-by", "", "filter by trigger (manual|scheduled)")
	return cmd
}

func simpleGet(opts *RootOptions, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out any
			if _, err := opts.client().Call(ctx, http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}

// listing prints {items, meta} for paginated endpoints.
func listing(cmd *cobra.Command, opts *RootOptions, path string) error {
	ctx, cancel := opts.reqContext()
	defer cancel()
	var items []map[string]any
	meta, err := opts.client().Call(ctx, http.MethodGet, path, nil, &items)
	if err != nil {
		return err
	}
	if items == nil {
		items = []map[string]any{}
	}
	return opts.print(cmd.OutOrStdout(), map[string]any{"items": items, "meta": meta})
}
