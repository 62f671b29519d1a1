package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	shredapp "github.com/govcon/shredder/internal/application/shredding"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "shred",
		Short: "Shred solicitations into compliance matrices",
		Long: `shred extracts obligation statements from solicitation text, classifies
them and keeps the resulting compliance matrix in a database.

By default the matrix lives in a local sqlite file. Pass --db "" to use the
database from config.toml instead.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ./config.toml when present)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "shredder.db", "sqlite database file")
	root.PersistentFlags().StringVar(&opts.classifier, "classifier", "", "classifier provider override (ollama, rules)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newListCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
	)
	return root
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		number string
		title  string
		out    string
		bom    bool
	)
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Shred a text file and optionally write its matrix",
		Long: `Reads solicitation text from a file ("-" for stdin), runs the shredding
pipeline and prints a run summary. With --out the compliance matrix is
written as CSV ("-" for stdout).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.pipeline.Run(ctx, shredapp.ShredRequest{
				SolicitationNumber: number,
				Title:              title,
				Text:               text,
			})
			if report != nil {
				printReport(cmd.ErrOrStderr(), report)
			}
			if err != nil {
				return err
			}
			if out == "" {
				return nil
			}
			return writeExport(ctx, cmd, a.matrix, report.OpportunityID.String(), out, bom)
		},
	}
	cmd.Flags().StringVarP(&number, "number", "n", "", "solicitation number")
	cmd.Flags().StringVarP(&title, "title", "t", "", "solicitation title")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the matrix CSV to this file")
	cmd.Flags().BoolVar(&bom, "bom", false, "prefix the CSV with a UTF-8 byte order mark")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shredded opportunities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			page, err := a.matrix.List(cmd.Context(), complianceapp.OpportunityListFilter{
				Search:   search,
				PageSize: 100,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOLICITATION\tSTATUS\tVERSION\tDEGRADED\tTITLE")
			for _, o := range page.Items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", o.SolicitationNumber, o.Status, o.Version, o.Degraded, o.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "filter by solicitation number or title")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		out string
		bom bool
		pdf bool
	)
	cmd := &cobra.Command{
		Use:   "export <solicitation-number|id>",
		Short: "Write the compliance matrix of an opportunity as CSV or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if pdf {
				res, err := a.matrix.ExportPDF(cmd.Context(), opportunityID(args[0]))
				if err != nil {
					return err
				}
				return writeResult(cmd, res, out)
			}
			return writeExport(cmd.Context(), cmd, a.matrix, args[0], out, bom)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&bom, "bom", false, "prefix the CSV with a UTF-8 byte order mark")
	cmd.Flags().BoolVar(&pdf, "pdf", false, "print the matrix to PDF through Chrome")
	cmd.MarkFlagsMutuallyExclusive("pdf", "bom")
	return cmd
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <solicitation-number|id> <file>",
		Short: "Apply tracking columns from an edited matrix CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.matrix.ImportTracking(cmd.Context(), opportunityID(args[0]), f)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "rows %d, applied %d, unchanged %d, unknown %d, rejected %d, unreadable %d\n",
				res.Rows, res.Applied, res.Unchanged, len(res.Unknown), len(res.Rejected), res.TotalErrors)
			for _, r := range res.Rejected {
				fmt.Fprintf(w, "  rejected %s: %s\n", r.ReqID, r.Message)
			}
			for _, id := range res.Unknown {
				fmt.Fprintf(w, "  unknown %s\n", id)
			}
			return nil
		},
	}
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(b), nil
}

func writeExport(ctx context.Context, cmd *cobra.Command, matrix *complianceapp.MatrixService, ref, out string, bom bool) error {
	res, err := matrix.ExportCSV(ctx, opportunityID(ref), bom)
	if err != nil {
		return err
	}
	return writeResult(cmd, res, out)
}

func writeResult(cmd *cobra.Command, res *complianceapp.ExportResult, out string) error {
	if out == "-" {
		_, err := cmd.OutOrStdout().Write(res.Data)
		return err
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d requirements to %s\n", res.Rows, out)
	return nil
}

func printReport(w io.Writer, r *shredapp.RunReport) {
	fmt.Fprintf(w, "%s %s in %s\n", r.SolicitationNumber, strings.ToLower(string(r.State)), r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	fmt.Fprintf(w, "  sections %d, candidates %d\n", r.Sections, r.Candidates)
	fmt.Fprintf(w, "  requirements inserted %d, updated %d, unchanged %d\n",
		r.Ingest.Inserted, r.Ingest.Updated, r.Ingest.Unchanged)
	if r.Fallbacks > 0 {
		fmt.Fprintf(w, "  %d requirements fell back to the default classification\n", r.Fallbacks)
	}
	for _, a := range r.Anomalies {
		fmt.Fprintf(w, "  anomaly line %d: %s (%s)\n", a.Line, a.Text, a.Reason)
	}
}
