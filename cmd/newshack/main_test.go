package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\n" +
		"NEWSHACK_TEST_FRESH=abc\n" +
		"NEWSHACK_TEST_PRESET=from-file\n" +
		"=no-key\n" +
		"malformed line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NEWSHACK_TEST_PRESET", "from-env")
	t.Setenv("NEWSHACK_TEST_FRESH", "")
	os.Unsetenv("NEWSHACK_TEST_FRESH")

	loadDotEnv(path)

	if got := os.Getenv("NEWSHACK_TEST_FRESH"); got != "abc" {
		t.Fatalf("fresh var = %q, want abc", got)
	}
	// Existing environment wins over the file.
	if got := os.Getenv("NEWSHACK_TEST_PRESET"); got != "from-env" {
		t.Fatalf("preset var = %q, want from-env", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "does-not-exist"))
}
