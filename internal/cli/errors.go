package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type errorFilter struct {
	entityType string
	strategy   string
	direction  string
}

func (f *errorFilter) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.entityType, "entity-type", "", "filter by entity type")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "filter by strategy name")
	cmd.Flags().StringVar(&f.direction, "direction", "", "filter by direction (pull|push)")
}

func (f *errorFilter) body() map[string]any {
	out := map[string]any{}
	if f.entityType != "" {
		out["entity_type"] = f.entityType
	}
	if f.strategy != "" {
		out["strategy"] = f.strategy
	}
	if f.direction != "" {
		out["direction"] = f.direction
	}
	return out
}

func newErrorsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Triage per-entity sync errors",
	}
	cmd.AddCommand(newErrorsListCommand(opts))
	cmd.AddCommand(newErrorsGetCommand(opts))
	cmd.AddCommand(newErrorsStateCommand(opts, "archive"))
	cmd.AddCommand(newErrorsStateCommand(opts, "restore"))
	cmd.AddCommand(newErrorsAllCommand(opts, "archive-all"))
	cmd.AddCommand(newErrorsAllCommand(opts, "restore-all"))
	return cmd
}

func newErrorsListCommand(opts *RootOptions) *cobra.Command {
	var (
		filter errorFilter
		state  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if state != "" {
				q.Set("state", state)
			}
			for k, v := range filter.body() {
				q.Set(k, fmt.Sprint(v))
			}
			return listing(cmd, opts, "/api/sync/errors?"+q.Encode())
		},
	}
	filter.bind(cmd)
	cmd.Flags().StringVar(&state, "state", "", "active|archived|resolved|all (default active)")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset")
	return cmd
}

func newErrorsGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one sync error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out map[string]any
			if _, err := opts.client().Call(ctx, http.MethodGet, "/api/sync/errors/"+strconv.FormatUint(id, 10), nil, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}

// newErrorsStateCommand archives or restores by id. One id uses the
// single-row route so the updated row is printed.
func newErrorsStateCommand(opts *RootOptions, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>...",
		Short: action + " sync errors by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uint64, 0, len(args))
			for _, raw := range args {
				id, err := parseID(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out map[string]any
			var err error
			if len(ids) == 1 {
				_, err = opts.client().Call(ctx, http.MethodPost, "/api/sync/errors/"+strconv.FormatUint(ids[0], 10)+"/"+action, nil, &out)
			} else {
				_, err = opts.client().Call(ctx, http.MethodPost, "/api/sync/errors/"+action, map[string]any{"ids": ids}, &out)
			}
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}

func newErrorsAllCommand(opts *RootOptions, action string) *cobra.Command {
	var filter errorFilter
	cmd := &cobra.Command{
		Use:   action,
		Short: action + " sync errors matching the filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.reqContext()
			defer cancel()
			var out map[string]any
			if _, err := opts.client().Call(ctx, http.MethodPost, "/api/sync/errors/"+action, filter.body(), &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	filter.bind(cmd)
	return cmd
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
