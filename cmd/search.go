package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/embeddings"
	"github.com/pders01/git-rewind/internal/ollama"
	"github.com/pders01/git-rewind/internal/search"
	"github.com/pders01/git-rewind/internal/timeline"
)

var (
	searchIgnoreCase bool
	searchFixed      bool
	searchSemantic   bool
	searchJSON       bool
	searchToon       bool
)

var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search snapshot contents and file names",
	Long: `Search every snapshot of the current branch for a pattern, in file
contents and in file names. Each matching snapshot is reported once.

The pattern is a POSIX extended regular expression unless --fixed is given.
Contents and file names follow the same syntax, so Perl classes such as \d
and backreferences are rejected; use [0-9] and friends instead.
With --semantic (or search.semantic=true) results are re-ranked by embedding
similarity when a local Ollama server is reachable, and keep their newest
first order otherwise.

Example:
  rewind search "TODO|FIXME"
  rewind search -i --fixed "connection refused"
  rewind search --semantic "retry logic for the http client"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().BoolVarP(&searchIgnoreCase, "ignore-case", "i", false, "Case insensitive match")
	searchCmd.Flags().BoolVar(&searchFixed, "fixed", false, "Match the pattern literally")
	searchCmd.Flags().BoolVar(&searchSemantic, "semantic", false, "Re-rank results by embedding similarity")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
	searchCmd.Flags().BoolVar(&searchToon, "toon", false, "Output in LLM-friendly toon format")
}

func runSearch(cmd *cobra.Command, args []string) error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	settings := config.Load()

	line, err := repo.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current branch: %w", err)
	}

	engine := search.New(repo, timeline.New(repo, settings.Namespace, settings.NotesRef))
	semantic := searchSemantic || settings.SemanticSearch
	if semantic {
		client, err := ollama.NewClient(settings.OllamaURL, settings.EmbeddingModel)
		if err != nil {
			return fmt.Errorf("invalid embeddings.ollama_url: %w", err)
		}
		if !client.Available(ctx) {
			log.WithField("url", settings.OllamaURL).Warn("Ollama is not reachable, keeping keyword order")
			fmt.Fprintln(os.Stderr, "Tip: start Ollama and pull the model: ollama pull "+settings.EmbeddingModel)
			semantic = false
		} else if err := client.CheckModel(ctx); err != nil {
			log.WithField("url", settings.OllamaURL).Warnf("%v, keeping keyword order", err)
			semantic = false
		} else {
			engine.WithEmbedder(client, embeddings.NewCache(settings.EmbeddingsDir()))
		}
	}

	results, err := engine.Search(ctx, line, search.Query{
		Pattern:    args[0],
		IgnoreCase: searchIgnoreCase,
		Fixed:      searchFixed,
		Semantic:   semantic,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if done, err := emit(results, searchJSON, searchToon); done {
		return err
	}

	if len(results) == 0 {
		fmt.Printf("No snapshots match %q\n", args[0])
		return nil
	}

	fmt.Printf("Found %d matching snapshot(s):\n\n", len(results))
	for _, r := range results {
		s := r.Snapshot
		fmt.Printf("  %3d  %s  %s  %s", s.Ordinal, s.ShortID(), s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.Message)
		if semantic {
			fmt.Printf("  (score %.2f)", r.Score)
		}
		fmt.Println()
		for _, f := range r.Files {
			fmt.Printf("       file: %s\n", f)
		}
		for i, m := range r.Matches {
			if i == 5 {
				fmt.Printf("       ... %d more\n", len(r.Matches)-5)
				break
			}
			fmt.Printf("       %s:%d: %s\n", m.Path, m.Line, truncate(strings.TrimSpace(m.Text), 100))
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
