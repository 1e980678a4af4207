package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/observability"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

const (
	defaultBatchConcurrency = 4
	maxBatchConcurrency     = 16
)

type app struct {
	logger    *zap.Logger
	generator func(context.Context) (towing.Generator, error)
	compact   bool
}

// toolkit is built lazily so --help never needs credentials.
type toolkit struct {
	towing   services.TowingService
	vehicles services.VehicleService
	vision   *towing.Vision
}

func (a *app) toolkit(ctx context.Context) (*toolkit, error) {
	if a.generator == nil {
		return nil, errors.New("no generative backend configured")
	}
	gen, err := a.generator(ctx)
	if err != nil {
		return nil, err
	}
	logger := a.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	advisor, err := towing.NewAdvisor(gen)
	if err != nil {
		return nil, err
	}
	normalizer, err := towing.NewNormalizer(gen, towing.WithNormalizerLogger(observability.EventLogger(logger)))
	if err != nil {
		return nil, err
	}
	vision, err := towing.NewVision(gen)
	if err != nil {
		return nil, err
	}
	towingSvc, err := services.NewTowingService(services.TowingServiceDeps{
		Advisor: advisor,
		Logger:  observability.EventLogger(logger),
	})
	if err != nil {
		return nil, err
	}
	vehicles, err := services.NewVehicleService(services.VehicleServiceDeps{Normalizer: normalizer})
	if err != nil {
		return nil, err
	}
	return &toolkit{towing: towingSvc, vehicles: vehicles, vision: vision}, nil
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "towctl",
		Short:        "Query towing guidance from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&a.compact, "compact", false, "print single-line JSON")

	root.AddCommand(
		a.lookupCommand(),
		a.batchCommand(),
		a.suggestCommand(),
		a.correctMakeCommand(),
		a.scanCommand(),
	)
	return root
}

func (a *app) lookupCommand() *cobra.Command {
	var cmdArgs services.LookupCommand
	cmd := &cobra.Command{
		Use:   "lookup [query...]",
		Short: "Look up towing guidance for a vehicle",
		Example: `  towctl lookup 2021 Subaru Outback
  towctl lookup --year 2020 --make Honda --model Civic
  towctl lookup VIN 1HGCM82633A004352`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kit, err := a.toolkit(ctx)
			if err != nil {
				return err
			}
			lookup := cmdArgs
			lookup.Query = strings.Join(args, " ")
			lookup.Source = domain.SearchSourceCLI
			result, err := kit.towing.Lookup(ctx, lookup)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), lookupOutput{Query: result.Query, SearchID: result.SearchID, TowingInfo: &result.Info})
		},
	}
	cmd.Flags().IntVar(&cmdArgs.Year, "year", 0, "model year")
	cmd.Flags().StringVar(&cmdArgs.Make, "make", "", "manufacturer")
	cmd.Flags().StringVar(&cmdArgs.Model, "model", "", "model")
	cmd.Flags().StringVar(&cmdArgs.Trim, "trim", "", "trim level")
	return cmd
}

type lookupOutput struct {
	Query      string             `json:"query"`
	SearchID   string             `json:"searchId,omitempty"`
	TowingInfo *domain.TowingInfo `json:"towingInfo,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (a *app) batchCommand() *cobra.Command {
	concurrency := defaultBatchConcurrency
	cmd := &cobra.Command{
		Use:   "batch <file|->",
		Short: "Look up every query in a file, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			queries, err := readQueries(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return errors.New("no queries to look up")
			}
			kit, err := a.toolkit(ctx)
			if err != nil {
				return err
			}
			results, failed, err := runBatch(ctx, kit.towing, queries, concurrency)
			if err != nil {
				return err
			}
			if err := a.print(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d lookups failed", failed, len(queries))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", defaultBatchConcurrency, "parallel lookups")
	return cmd
}

// runBatch looks up queries with at most concurrency calls in flight. Results keep the input
// order; individual failures are reported in place and counted.
func runBatch(ctx context.Context, svc services.TowingService, queries []string, concurrency int) ([]lookupOutput, int, error) {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	concurrency = min(concurrency, maxBatchConcurrency)

	results := make([]lookupOutput, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, query := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := svc.Lookup(gctx, services.LookupCommand{Query: query, Source: domain.SearchSourceCLI})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				results[i] = lookupOutput{Query: query, Error: err.Error()}
				return nil
			}
			results[i] = lookupOutput{Query: result.Query, SearchID: result.SearchID, TowingInfo: &result.Info}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	return results, failed, nil
}

func readQueries(stdin io.Reader, path string) ([]string, error) {
	var src io.Reader = stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		src = file
	}
	var queries []string
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	return queries, nil
}

func (a *app) suggestCommand() *cobra.Command {
	var (
		year         int
		manufacturer string
		model        string
	)
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "List model or trim suggestions",
	}
	models := &cobra.Command{
		Use:   "models",
		Short: "List models for a make",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), optionsOutput{Options: kit.vehicles.Models(cmd.Context(), year, manufacturer)})
		},
	}
	trims := &cobra.Command{
		Use:   "trims",
		Short: "List trims for a make and model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), optionsOutput{Options: kit.vehicles.Trims(cmd.Context(), year, manufacturer, model)})
		},
	}
	for _, sub := range []*cobra.Command{models, trims} {
		sub.Flags().IntVar(&year, "year", 0, "model year")
		sub.Flags().StringVar(&manufacturer, "make", "", "manufacturer")
		_ = sub.MarkFlagRequired("make")
	}
	trims.Flags().StringVar(&model, "model", "", "model")
	_ = trims.MarkFlagRequired("model")

	cmd.AddCommand(models, trims)
	return cmd
}

type optionsOutput struct {
	Options []string `json:"options"`
}

func (a *app) correctMakeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "correct-make <make>",
		Short: "Normalise a manufacturer name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args, " ")
			if corrected, ok := towing.StaticMake(input); ok {
				return a.print(cmd.OutOrStdout(), correctMakeOutput{Input: input, CorrectedMake: corrected})
			}
			kit, err := a.toolkit(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), correctMakeOutput{Input: input, CorrectedMake: kit.vehicles.CorrectMake(cmd.Context(), input)})
		},
	}
}

type correctMakeOutput struct {
	Input         string `json:"input"`
	CorrectedMake string `json:"correctedMake"`
}

func (a *app) print(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if !a.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
