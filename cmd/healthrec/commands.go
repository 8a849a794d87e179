package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	dombatch "github.com/kailas-cloud/healthrec/internal/domain/batch"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/domain/geo"
	"github.com/kailas-cloud/healthrec/internal/domain/query"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
	cataloguc "github.com/kailas-cloud/healthrec/internal/usecase/catalog"
)

var (
	flagQuery   string
	flagLat     float64
	flagLon     float64
	flagRadius  float64
	flagRerank  bool
	flagFilters []string
	flagMessage string

	flagFile      string
	flagFormat    string
	flagResource  string
	flagKeep      string
	flagBatchSize int
	flagPurge     bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Run one recommendation and print it as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := queryFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		rec, err := a.recommend.Recommend(cmd.Context(), q)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Generate follow-up questions for a query and a previous recommendation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		qs, err := a.recommend.GenerateQuestions(cmd.Context(), flagQuery, flagMessage)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string][]string{"questions": qs})
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the service catalog",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Embed and store services from a JSON array or parquet export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := inputFormat(flagFile, flagFormat)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		opts := cataloguc.LoadOptions{
			Resource:  flagResource,
			Keep:      service.KeepStrategy(flagKeep),
			BatchSize: flagBatchSize,
		}
		report, err := loadCatalog(cmd.Context(), a, flagFile, format, opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		created, updated, failed := report.Counts()
		fmt.Fprintf(out, "created=%d updated=%d failed=%d duplicates=%d warnings=%d\n",
			created, updated, failed, report.Duplicates, report.Warnings)
		for _, r := range report.Errors() {
			fmt.Fprintf(out, "  %s (%s): %v\n", r.Name(), r.ID(), r.Err())
		}
		if failed > 0 {
			return fmt.Errorf("%d records failed", failed)
		}
		return nil
	},
}

var catalogCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of stored services",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.ingest.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every stored service as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		recs, err := a.ingest.List(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

var catalogDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return a.ingest.Delete(cmd.Context(), args[0])
	},
}

var catalogDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the vector index, optionally deleting stored services",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.ingest.Drop(cmd.Context(), flagPurge)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dropped index, deleted %d records\n", n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{recommendCmd, questionsCmd} {
		c.Flags().StringVarP(&flagQuery, "query", "q", "", "free-text description of the need")
		_ = c.MarkFlagRequired("query")
	}
	recommendCmd.Flags().Float64Var(&flagLat, "lat", 0, "latitude of the user")
	recommendCmd.Flags().Float64Var(&flagLon, "lon", 0, "longitude of the user")
	recommendCmd.Flags().Float64Var(&flagRadius, "radius", 0, "search radius in meters (requires --lat/--lon)")
	recommendCmd.Flags().BoolVar(&flagRerank, "rerank", false, "re-rank candidates with the LLM")
	recommendCmd.Flags().StringArrayVar(&flagFilters, "filter", nil,
		"metadata filter, e.g. service_type=food or !resource=legacy (repeatable)")
	questionsCmd.Flags().StringVar(&flagMessage, "message", "", "previous recommendation message")

	catalogLoadCmd.Flags().StringVarP(&flagFile, "file", "f", "-", "JSON array or parquet export of services (- for stdin)")
	catalogLoadCmd.Flags().StringVar(&flagFormat, "format", "", "input format: json, parquet (default: from file extension)")
	catalogLoadCmd.Flags().StringVar(&flagResource, "resource", "", "default data source for untagged records")
	catalogLoadCmd.Flags().StringVar(&flagKeep, "keep", string(service.KeepMostRecent),
		"duplicate strategy: first, last, most_recent")
	catalogLoadCmd.Flags().IntVar(&flagBatchSize, "batch-size", 64, "records per embedding call")
	catalogDropCmd.Flags().BoolVar(&flagPurge, "purge", false, "also delete stored services")

	catalogCmd.AddCommand(catalogLoadCmd, catalogCountCmd, catalogListCmd, catalogDeleteCmd, catalogDropCmd)
}

func queryFromFlags(cmd *cobra.Command) (query.Query, error) {
	var loc *geo.Point
	latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
	if latSet != lonSet {
		return query.Query{}, fmt.Errorf("--lat and --lon must be given together")
	}
	if latSet {
		p, err := geo.NewPoint(flagLat, flagLon)
		if err != nil {
			return query.Query{}, err
		}
		loc = &p
	}

	var radius *float64
	if cmd.Flags().Changed("radius") {
		radius = &flagRadius
	}

	filters, err := filter.Parse(flagFilters)
	if err != nil {
		return query.Query{}, err
	}
	return query.New(flagQuery, loc, radius, flagRerank, filters)
}

const (
	formatJSON    = "json"
	formatParquet = "parquet"
)

func inputFormat(path, explicit string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(explicit)); f {
	case formatJSON, formatParquet:
		return f, nil
	case "":
	default:
		return "", fmt.Errorf("unknown format %q", explicit)
	}
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return formatParquet, nil
	}
	return formatJSON, nil
}

func loadCatalog(
	ctx context.Context, a *app, path, format string, opts cataloguc.LoadOptions,
) (dombatch.Report, error) {
	stdin := path == "" || path == "-"

	if format == formatParquet {
		// Parquet needs random access; stdin is not seekable.
		if stdin {
			return dombatch.Report{}, errors.New("parquet input must be a file")
		}
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return dombatch.Report{}, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return dombatch.Report{}, fmt.Errorf("stat input: %w", err)
		}
		return a.ingest.LoadParquet(ctx, f, st.Size(), opts)
	}

	if stdin {
		return a.ingest.Load(ctx, os.Stdin, opts)
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return dombatch.Report{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return a.ingest.Load(ctx, f, opts)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
