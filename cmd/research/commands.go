package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"stock_research/pkg/app"
	"stock_research/pkg/core/config"
	"stock_research/pkg/core/logging"
	"stock_research/pkg/models"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type rootOptions struct {
	configPath string
	logLevel   string
	asJSON     bool
}

// appFactory is swapped in tests.
var appFactory = func(ctx context.Context, opts *rootOptions) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return app.New(ctx, cfg, logging.New(cfg.Logging))
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "research",
		Short:        "Stock research powered by a search-grounded AI model",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(newAnalyzeCmd(opts), newMarketCmd(opts))
	return root
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <company or ticker...>",
		Short: "Analyse a single company",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFactory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			result, found, err := a.Service.AnalyzeEntity(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("could not reach the AI service, try again later: %w", err)
			}

			out := cmd.OutOrStdout()
			if !found {
				fmt.Fprintf(out, "Company %q not found or has no public market data.\n", query)
				return nil
			}
			if opts.asJSON {
				return writeJSON(out, result)
			}
			printAnalysis(out, result)
			return nil
		},
	}
}

func newMarketCmd(opts *rootOptions) *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "market",
		Short: "Show sector recommendations for a region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			regions, err := parseRegions(region)
			if err != nil {
				return err
			}

			a, err := appFactory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			results := make(map[models.Region][]models.SectorRecommendation, len(regions))
			var mu sync.Mutex
			g, ctx := errgroup.WithContext(cmd.Context())
			for _, r := range regions {
				r := r
				g.Go(func() error {
					sectors := a.Service.ListRecommendations(ctx, r)
					mu.Lock()
					results[r] = sectors
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, results)
			}
			for _, r := range regions {
				printSectors(out, r, results[r])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "BR", "BR, US or all")
	return cmd
}

func parseRegions(s string) ([]models.Region, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return models.Regions, nil
	}
	r, err := models.ParseRegion(s)
	if err != nil {
		return nil, err
	}
	return []models.Region{r}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAnalysis(w io.Writer, r *models.AnalysisResult) {
	fmt.Fprintf(w, "%s  %s\n", r.Symbol, r.CompanyName)
	fmt.Fprintf(w, "Price: %s (%s)  Sector: %s\n", r.CurrentPrice, r.Currency, r.Sector)
	fmt.Fprintf(w, "Valuation: %s  Health: %d/100\n", r.Valuation, r.FinancialHealthScore)
	if r.Description != "" {
		fmt.Fprintf(w, "\n%s\n", r.Description)
	}

	fmt.Fprintf(w, "\nP/E %s | DY %s | Mkt cap %s | 52w %s - %s\n",
		r.KeyStats.PERatio, r.KeyStats.DividendYield, r.KeyStats.MarketCap, r.KeyStats.Week52Low, r.KeyStats.Week52High)

	printList(w, "Pros", r.Pros)
	printList(w, "Cons", r.Cons)

	if len(r.Metrics) > 0 {
		fmt.Fprintln(w, "\nMetrics:")
		for _, m := range r.Metrics {
			fmt.Fprintf(w, "  %-20s %-15s %3d\n", m.Name, m.Value, m.Score)
		}
	}
	if len(r.News) > 0 {
		fmt.Fprintln(w, "\nNews:")
		for _, n := range r.News {
			fmt.Fprintf(w, "  [%s] %s (%s)\n", n.Date, n.Title, n.Source)
		}
	}
	fmt.Fprintf(w, "\nGenerated at %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func printSectors(w io.Writer, region models.Region, sectors []models.SectorRecommendation) {
	fmt.Fprintf(w, "== %s ==\n", region)
	if len(sectors) == 0 {
		fmt.Fprintln(w, "No recommendations available right now.")
		return
	}
	for _, s := range sectors {
		fmt.Fprintf(w, "\n%s\n", s.SectorName)
		for _, st := range s.Stocks {
			fmt.Fprintf(w, "  %-7s %-25s %-12s %-7s %s\n", st.Symbol, st.Name, st.Price, st.Trend, st.Reason)
		}
	}
	fmt.Fprintln(w)
}
