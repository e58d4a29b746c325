package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/catalog"
	"github.com/kasioon/searchgw/pkg/searchgw/intent"
	"github.com/kasioon/searchgw/pkg/searchgw/llm"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/orchestrator"
	"github.com/kasioon/searchgw/pkg/searchgw/planner"
	"github.com/kasioon/searchgw/pkg/searchgw/search"
	"github.com/kasioon/searchgw/pkg/searchgw/stats"
	"github.com/kasioon/searchgw/pkg/searchgw/store"
)

// newQueryCmd creates the `searchgw query` command: one request through the
// full pipeline, straight from the terminal.
func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run one search from the command line",
		Long: `Run a single natural-language query through the pipeline and print
the results.

Examples:
  searchgw query "شقة للايجار في دمشق"
  searchgw query "best 5 apartments in homs" --language en --json`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}

	cmd.Flags().StringP("language", "l", "", "query language (ar or en, default: detected)")
	cmd.Flags().Int("limit", 0, "maximum results")
	cmd.Flags().Bool("json", false, "print the raw response envelope")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	langFlag, _ := cmd.Flags().GetString("language")
	var lang model.Language
	switch langFlag {
	case "":
		lang = model.DetectLanguage(args[0])
	case "ar":
		lang = model.LangArabic
	case "en":
		lang = model.LangEnglish
	default:
		return fmt.Errorf("language must be ar or en, got %q", langFlag)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer st.Close()

	cat, err := catalog.New(ctx, st, cfg.Catalog.KeywordsPath, logger)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	c, err := cache.New(cfg.Cache, logger)
	if err != nil {
		c = cache.NewDisabled(logger)
	}
	defer c.Close()

	llmClient, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	orch := orchestrator.New(
		intent.New(llmClient, c, logger),
		planner.New(llmClient, c, cat, logger),
		search.New(st, cat, c, cfg.Search, logger),
		stats.New(st, c, logger),
		nil,
		cfg.Server,
		logger,
	)

	resp, err := orch.Handle(ctx, orchestrator.Request{
		Query:    args[0],
		Language: lang,
		Source:   string(model.SourceAPI),
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(resp.Envelope(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printResult(resp.Result)
	return nil
}

// printResult writes a terminal summary of one result set.
func printResult(res model.SearchResult) {
	w := os.Stdout

	fmt.Fprintf(w, "intent: %s", res.Intent)
	if res.Strategy != "" {
		fmt.Fprintf(w, "  strategy: %s", res.Strategy)
	}
	fmt.Fprintln(w)

	if res.FallbackMessage != "" {
		fmt.Fprintln(w, res.FallbackMessage)
		for _, s := range res.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
		return
	}

	if res.Office != nil {
		o := res.Office
		fmt.Fprintf(w, "%s\n  %s\n", o.Name, o.URL())
		return
	}
	for _, o := range res.Offices {
		fmt.Fprintf(w, "- %s\n  %s\n", o.Name, o.URL())
	}

	for i, r := range res.Listings {
		fmt.Fprintf(w, "%2d. %s (score %d)\n    %s\n", i+1, r.Listing.Title, r.Score, r.Listing.URL())
	}
	if res.Total > len(res.Listings) {
		fmt.Fprintf(w, "showing %d of %d results\n", len(res.Listings), res.Total)
	}
}
