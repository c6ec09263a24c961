package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/checksumhq/danny/internal/config"
	"github.com/checksumhq/danny/internal/db"
	"gorm.io/gorm"
)

// writeTestConfig writes a sqlite-backed config into a temp dir and returns
// its path. extra is appended verbatim.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "danny.yaml")
	body := fmt.Sprintf("slack:\n  bot_token: xoxb-test\nagent:\n  api_key: sk-test\ndatabase:\n  driver: sqlite\n  path: %s\n%s",
		filepath.Join(dir, "danny.db"), extra)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// openConfigDB connects to the database named by a test config and
// migrates it.
func openConfigDB(t *testing.T, configPath string) *gorm.DB {
	t.Helper()
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gormDB
}

// runCmd executes the root command with args and returns its output.
func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "danny dev") {
		t.Errorf("expected output to contain 'danny dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "danny 1.0.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "", "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if got := newRootCmd().Short; got != "Danny: onboarding conversations over chat" {
		t.Errorf("Short = %q", got)
	}
	for _, sub := range []string{"run", "poll", "channel", "session", "db", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"no-such-command"})
	if code := execute(cmd); code != 1 {
		t.Errorf("execute = %d, want 1", code)
	}
}

func TestMissingConfig(t *testing.T) {
	for _, args := range [][]string{
		{"run", "-c", "/nonexistent/danny.yaml"},
		{"poll", "-c", "/nonexistent/danny.yaml"},
		{"channel", "list", "-c", "/nonexistent/danny.yaml"},
		{"session", "show", "1", "-c", "/nonexistent/danny.yaml"},
		{"db", "init", "-c", "/nonexistent/danny.yaml"},
	} {
		_, err := runCmd(t, "", args...)
		if err == nil || !strings.Contains(err.Error(), "load config") {
			t.Errorf("%v: err = %v, want load config error", args, err)
		}
	}
}
