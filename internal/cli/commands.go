package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/querykit/internal/export"
	"github.com/rpattn/querykit/internal/query"
)

// now is replaced in tests.
var now = time.Now

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count the reviews matching a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			b, err := opts.Build(e.reviews, now())
			if err != nil {
				return err
			}
			ctx, cancel := e.withTimeout(cmd.Context())
			defer cancel()
			n, err := b.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	addQueryFlags(cmd, opts)
	return cmd
}

// NewListCommand creates the list command. Records are written one JSON
// object per line.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the reviews matching a query as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			b, err := opts.Build(e.reviews, now())
			if err != nil {
				return err
			}
			ctx, cancel := e.withTimeout(cmd.Context())
			defer cancel()
			rows, err := b.Build(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for record, err := range query.All(rows) {
				if err != nil {
					return err
				}
				if err := enc.Encode(record); err != nil {
					return fmt.Errorf("encode record: %w", err)
				}
			}
			return nil
		},
	}
	addQueryFlags(cmd, opts)
	return cmd
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}
	var count bool
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the SQL a query compiles to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			b, err := opts.Build(e.reviews, now())
			if err != nil {
				return err
			}
			req := query.Request{Mode: query.ModeFetch, Spec: b.Spec()}
			if count {
				req.Mode = query.ModeCount
				req.Spec.SelectRelated = nil
				req.Spec.PrefetchRelated = nil
				req.Spec.OrderBy = nil
			}
			if err := e.registry.ValidateSpec(req.Spec); err != nil {
				return err
			}
			stmt, err := e.records.Explain(req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, stmt.SQL)
			if len(stmt.Args) > 0 {
				encoded, err := json.Marshal(stmt.Args)
				if err != nil {
					return fmt.Errorf("encode args: %w", err)
				}
				fmt.Fprintf(out, "-- args: %s\n", encoded)
			}
			return nil
		},
	}
	addQueryFlags(cmd, opts)
	cmd.Flags().BoolVar(&count, "count", false, "explain the count statement instead of the fetch")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}
	var (
		formatName string
		out        string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the reviews matching a query to CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			b, err := opts.Build(e.reviews, now())
			if err != nil {
				return err
			}
			columns, err := export.Columns(e.registry, b.Spec())
			if err != nil {
				return err
			}
			ctx, cancel := e.withTimeout(cmd.Context())
			defer cancel()
			rows, err := b.Build(ctx)
			if err != nil {
				return err
			}

			if out == "-" {
				_, err := export.Write(ctx, cmd.OutOrStdout(), format, columns, rows)
				return err
			}
			path := out
			if path == "" {
				path = export.FileName(fmt.Sprintf("review-shop-%d", opts.Shop), format, now())
			} else if info, statErr := statDir(path); statErr == nil && info {
				path = filepath.Join(path, export.FileName(fmt.Sprintf("review-shop-%d", opts.Shop), format, now()))
			}
			result, err := export.WriteFile(ctx, path, format, columns, rows)
			if err != nil {
				return err
			}
			e.logger.Info("export completed",
				zap.String("path", path),
				zap.String("mime", format.MimeType()),
				zap.Int("rows", result.RowsExported),
				zap.Int64("bytes", result.BytesWritten),
			)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	addQueryFlags(cmd, opts)
	cmd.Flags().StringVar(&formatName, "format", "csv", "export format (csv|xlsx)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or directory, - for stdout")
	return cmd
}

func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		shop    int64
		product int64
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the published reviews of a shop or product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := e.withTimeout(cmd.Context())
			defer cancel()
			var stats map[string]any
			if product != 0 {
				stats, err = e.reviews.ProductStats(ctx, shop, product)
			} else {
				stats, err = e.reviews.Statistics(ctx, shop)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().Int64Var(&shop, "shop", 0, "shop id (required)")
	cmd.Flags().Int64Var(&product, "product", 0, "restrict to one product")
	_ = cmd.MarkFlagRequired("shop")
	return cmd
}
