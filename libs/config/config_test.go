package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIntAndSeconds(t *testing.T) {
	t.Setenv("CAL_TEST_INT", "42")
	t.Setenv("CAL_TEST_BAD", "forty")
	t.Setenv("CAL_TEST_SECS", "90")

	n, err := Int("CAL_TEST_INT", 1)
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %d (%v)", n, err)
	}
	if n, err := Int("CAL_TEST_MISSING", 7); err != nil || n != 7 {
		t.Fatalf("expected fallback 7, got %d (%v)", n, err)
	}
	if _, err := Int("CAL_TEST_BAD", 0); err == nil {
		t.Fatal("expected error for malformed int")
	}
	d, err := Seconds("CAL_TEST_SECS", time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("expected 90s, got %s (%v)", d, err)
	}
}

func TestPortValidation(t *testing.T) {
	t.Setenv("CAL_TEST_PORT", "70000")
	if _, err := Port("CAL_TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	if p, err := Port("CAL_TEST_PORT_UNSET", "8080"); err != nil || p != "8080" {
		t.Fatalf("expected fallback port, got %q (%v)", p, err)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("CAL_TEST_BOOL", "off")
	if Bool("CAL_TEST_BOOL", true) {
		t.Fatal("expected false")
	}
	t.Setenv("CAL_TEST_LIST", " a, ,b ,")
	got := List("CAL_TEST_LIST")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list: %#v", got)
	}
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CAL_DOTENV_A=fromfile\nCAL_DOTENV_B=fromfile\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CAL_DOTENV_A", "fromenv")
	t.Cleanup(func() { _ = os.Unsetenv("CAL_DOTENV_B") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CAL_DOTENV_A"); got != "fromenv" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
	if got := os.Getenv("CAL_DOTENV_B"); got != "fromfile" {
		t.Fatalf("expected value from file, got %q", got)
	}
}
