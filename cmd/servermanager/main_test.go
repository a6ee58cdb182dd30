package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("version --short = %q, want %q", out, version)
	}
}

func TestInitThenCheck(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "--no-color", "init", dir); err != nil {
		t.Fatalf("init error = %v", err)
	}
	for _, name := range []string{defaultConfigFile, filepath.Join("web", "index.html")} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("init did not write %s: %v", name, err)
		}
	}

	out, err := execute(t, "--no-color", "check", "--config", filepath.Join(dir, defaultConfigFile))
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	for _, want := range []string{"configuration is valid", ":8080", "Cache:      file"} {
		if !strings.Contains(out, want) {
			t.Errorf("check output missing %q:\n%s", want, out)
		}
	}
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, defaultConfigFile)
	if err := os.WriteFile(path, []byte("web:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInit(dir, false); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "9000") {
		t.Fatalf("config overwritten without --force: %s", data)
	}
}

func TestCheckMissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "check", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "SM101") {
		t.Fatalf("check error = %v, want SM101", err)
	}
}

func TestCheckInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("web:\n  port: 70000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "check", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "SM111") {
		t.Fatalf("check error = %v, want SM111", err)
	}
}
