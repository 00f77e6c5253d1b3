package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/testutil"
)

// setupRepo chdirs into a fresh repository with default config and a
// private state dir, and resets every command flag.
func setupRepo(t *testing.T) (*testutil.TempGitRepo, string) {
	t.Helper()
	repo := testutil.NewTempGitRepo(t)

	oldWd, _ := os.Getwd()
	if err := os.Chdir(repo.Path); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })

	stateDir := t.TempDir()
	viper.Reset()
	config.SetDefaults()
	viper.Set("state.dir", stateDir)
	t.Cleanup(viper.Reset)
	t.Setenv("REWIND_SESSION_ID", "")

	resetFlags()
	return repo, stateDir
}

func resetFlags() {
	saveHook, saveSession, saveTool, saveFile, saveMaxWait = false, "", "", "", 0
	listAll, listSince, listSession, listJSON, listToon = false, "", "", false, false
	showJSON, showToon = false, false
	diffJSON, diffToon = false, false
	searchIgnoreCase, searchFixed, searchSemantic, searchJSON, searchToon = false, false, false, false, false
	deleteAll, deleteYes = false, false
	cleanupForce, cleanupJSON = false, false
	queueJSON, queueToon, queueVerbose, drainHook = false, false, false, false
	archiveOutput, archiveAll = "", false
	initForce = false
}

// captureStdout returns what fn printed
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.Bytes()
	}()

	runErr := fn()
	w.Close()
	os.Stdout = old
	return string(<-done), runErr
}

// saveSnapshot writes content to name and saves it
func saveSnapshot(t *testing.T, repo *testutil.TempGitRepo, name, content, message string) {
	t.Helper()
	repo.CreateFile(name, content)
	if _, err := captureStdout(t, func() error { return runSave(nil, []string{message}) }); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

// listJSONOutput returns the current branch's snapshots as list --json prints them
func listJSONOutput(t *testing.T) []models.SnapshotInfo {
	t.Helper()
	listJSON = true
	defer func() { listJSON = false }()

	out, err := captureStdout(t, func() error { return runList(nil, nil) })
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var infos []models.SnapshotInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("list --json is not JSON: %v\n%s", err, out)
	}
	return infos
}

func setMaxWait(t *testing.T, d time.Duration) {
	t.Helper()
	viper.Set("guard.max_wait", d)
}
