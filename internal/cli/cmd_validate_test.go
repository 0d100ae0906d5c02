package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "tasks.yaml")
	spec := `version: 1
tasks:
  - id: "1"
    title: Build parser
  - id: "2"
    title: Wire lexer
    dependencies: ["1"]
`
	if err := os.WriteFile(specPath, []byte(spec), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newValidateCmd()
	cmd.SetArgs([]string{"--spec", specPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateCommandReportsCycle(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "tasks.yaml")
	spec := `version: 1
tasks:
  - id: "a"
    title: First
    dependencies: ["b"]
  - id: "b"
    title: Second
    dependencies: ["a"]
`
	if err := os.WriteFile(specPath, []byte(spec), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newValidateCmd()
	cmd.SetArgs([]string{"--spec", specPath})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestInitCommandCreatesConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := newInitCmd()
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(".tasksync", "config.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	// Second init without --force refuses.
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error on re-init without --force")
	}
}
