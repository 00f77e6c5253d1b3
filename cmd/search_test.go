package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"

	"github.com/pders01/git-rewind/internal/search"
)

func searchJSONOutput(t *testing.T, pattern string) []search.Result {
	t.Helper()
	searchJSON = true
	defer func() { searchJSON = false }()

	out, err := captureStdout(t, func() error { return runSearch(nil, []string{pattern}) })
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	var results []search.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("search --json is not JSON: %v\n%s", err, out)
	}
	return results
}

func TestSearchContentsAndNames(t *testing.T) {
	repo, _ := setupRepo(t)
	saveSnapshot(t, repo, "server.go", "func retryRequest() {}\n", "add retry")
	saveSnapshot(t, repo, "retry_policy.md", "backoff notes\n", "docs")

	results := searchJSONOutput(t, "retry")
	if len(results) != 2 {
		t.Fatalf("expected both snapshots to match, got %d", len(results))
	}
	newest := results[0]
	if newest.Snapshot.Message != "docs" {
		t.Errorf("expected newest first, got %q", newest.Snapshot.Message)
	}
	if len(newest.Files) != 1 || newest.Files[0] != "retry_policy.md" {
		t.Errorf("expected a file name match, got %v", newest.Files)
	}
	if len(newest.Matches) != 1 || newest.Matches[0].Path != "server.go" {
		t.Errorf("expected one content match per snapshot, got %+v", newest.Matches)
	}
}

func TestSearchNoMatches(t *testing.T) {
	repo, _ := setupRepo(t)
	saveSnapshot(t, repo, "a.txt", "hello\n", "greeting")

	out, err := captureStdout(t, func() error { return runSearch(nil, []string{"absent-token"}) })
	if err != nil {
		t.Fatalf("a search without matches is not an error: %v", err)
	}
	if !strings.Contains(out, "No snapshots match") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSearchEmptyPattern(t *testing.T) {
	setupRepo(t)

	if err := runSearch(nil, []string{"  "}); err == nil {
		t.Error("an empty pattern should fail")
	}
}

func TestSearchCaseAndFixed(t *testing.T) {
	repo, _ := setupRepo(t)
	saveSnapshot(t, repo, "a.txt", "Value (x+1)\n", "expr")

	if got := searchJSONOutput(t, "value"); len(got) != 0 {
		t.Errorf("search should be case sensitive by default, got %d", len(got))
	}
	searchIgnoreCase = true
	if got := searchJSONOutput(t, "value"); len(got) != 1 {
		t.Errorf("-i should match, got %d", len(got))
	}
	searchIgnoreCase, searchFixed = false, true
	if got := searchJSONOutput(t, "(x+1)"); len(got) != 1 {
		t.Errorf("--fixed should match literally, got %d", len(got))
	}
}

func TestSearchSemanticFallsBackWhenOllamaDown(t *testing.T) {
	repo, _ := setupRepo(t)
	saveSnapshot(t, repo, "a.txt", "alpha\n", "one")
	saveSnapshot(t, repo, "b.txt", "alpha beta\n", "two")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	viper.Set("embeddings.ollama_url", down.URL)

	searchSemantic = true
	results := searchJSONOutput(t, "alpha")
	if len(results) != 2 || results[0].Snapshot.Message != "two" {
		t.Errorf("expected keyword order when Ollama is unavailable, got %+v", results)
	}
}

func TestSearchSemanticFallsBackWhenModelMissing(t *testing.T) {
	repo, _ := setupRepo(t)
	saveSnapshot(t, repo, "a.txt", "alpha\n", "one")
	saveSnapshot(t, repo, "b.txt", "alpha beta\n", "two")

	var embeds atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"models":[{"name":"llama3:latest"}]}`))
		case "/api/embed":
			embeds.Add(1)
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	viper.Set("embeddings.ollama_url", srv.URL)
	viper.Set("embeddings.model", "nomic-embed-text")

	searchSemantic = true
	results := searchJSONOutput(t, "alpha")
	if len(results) != 2 || results[0].Snapshot.Message != "two" {
		t.Errorf("expected keyword order when the model is not pulled, got %+v", results)
	}
	if n := embeds.Load(); n != 0 {
		t.Errorf("no embeddings should be requested without the model, got %d requests", n)
	}
}
