package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/storyhook/internal/cli"
	"github.com/hyperjump/storyhook/internal/keyword"
	"github.com/hyperjump/storyhook/internal/models"
)

type searchFlags struct {
	server string
	limit  int
	fuzzy  bool
	output string
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	sf := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Search imported records by keyword",
		Long: `Search imported records by title and body text.

The query is all remaining arguments joined by spaces. By default the running server
is queried; use --server "" to open the index directly when the server is stopped.

Examples:
  storyhook search spring launch
  storyhook search --fuzzy "photografy tips"
  storyhook search --output json launch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if query == "" {
				return fmt.Errorf("query must not be empty")
			}
			var (
				hits []models.SearchHit
				err  error
			)
			if sf.server != "" {
				hits, err = searchViaHTTP(cmd.Context(), sf.server, query, sf.limit, sf.fuzzy)
			} else {
				hits, err = searchDirect(cmd.Context(), flags, query, sf.limit, sf.fuzzy)
			}
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), query, hits, cli.ParseOutputFormat(sf.output))
		},
	}
	cmd.Flags().StringVar(&sf.server, "server", "http://localhost:8080", `server URL; empty ("") opens the index directly`)
	cmd.Flags().IntVar(&sf.limit, "limit", 10, "number of results")
	cmd.Flags().BoolVar(&sf.fuzzy, "fuzzy", false, "enable typo tolerance")
	cmd.Flags().StringVar(&sf.output, "output", "text", "output format: text or json")
	return cmd
}

// buildSearchQuery joins args into one query. Multi-word queries work with or without quotes.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func searchViaHTTP(ctx context.Context, serverURL, query string, limit int, fuzzy bool) ([]models.SearchHit, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	if fuzzy {
		params.Set("fuzzy", "true")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(serverURL, "/")+"/api/v1/records/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Results []models.SearchHit `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Results, nil
}

func searchDirect(ctx context.Context, flags *globalFlags, query string, limit int, fuzzy bool) ([]models.SearchHit, error) {
	c, err := setup(flags, componentOptions{index: true})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	results, err := c.Index.Search(ctx, query, limit, &keyword.SearchOptions{TitleBoost: 3, FuzzyEnabled: fuzzy})
	if err != nil {
		return nil, err
	}
	hits := make([]models.SearchHit, 0, len(results))
	for _, res := range results {
		rec, err := c.Storage.GetRecord(ctx, res.RecordID)
		if err != nil {
			continue
		}
		hits = append(hits, models.SearchHit{
			RecordID: rec.ID,
			Score:    res.Score,
			Title:    rec.Title,
			Status:   rec.Status,
			EditURL:  c.Config.EditURL(rec.ID),
		})
	}
	return hits, nil
}
