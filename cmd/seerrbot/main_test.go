package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m3rciful/seerrbot/core/buildinfo"
)

func TestVersionCmd(t *testing.T) {
	orig := buildinfo.Version
	buildinfo.Version = "1.2.3"
	defer func() { buildinfo.Version = orig }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--env-file", "", "version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(buf.String(), "seerrbot 1.2.3") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestEnvFileLoaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SEERRBOT_TEST_MARKER=loaded\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SEERRBOT_TEST_MARKER", "")
	os.Unsetenv("SEERRBOT_TEST_MARKER")

	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"--env-file", path, "version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := os.Getenv("SEERRBOT_TEST_MARKER"); got != "loaded" {
		t.Fatalf("marker = %q", got)
	}
}

func TestMissingEnvFileIgnored(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestMigrateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("telegram:\n  token: x\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--env-file", "", "migrate", "--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected validation error")
	}
}
