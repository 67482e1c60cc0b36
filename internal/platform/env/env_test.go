package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("HARVEST_ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("HARVEST_ENV_STRING_KEY", "value")
	got := String("HARVEST_ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestList_SplitsAndTrims(t *testing.T) {
	t.Setenv("HARVEST_ENV_LIST_KEY", " triply, ,s3 ")
	got := List("HARVEST_ENV_LIST_KEY", nil)
	if len(got) != 2 || got[0] != "triply" || got[1] != "s3" {
		t.Fatalf("List()=%v, want [triply s3]", got)
	}
	def := List("HARVEST_ENV_LIST_DOES_NOT_EXIST", []string{"x"})
	if len(def) != 1 || def[0] != "x" {
		t.Fatalf("List() default=%v", def)
	}
}

func TestDuration_Invalid(t *testing.T) {
	t.Setenv("HARVEST_ENV_DURATION_INVALID", "not-a-duration")
	if _, err := Duration("HARVEST_ENV_DURATION_INVALID", 5*time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestInt64_Override(t *testing.T) {
	t.Setenv("HARVEST_ENV_INT64_KEY", "20000000")
	got, err := Int64("HARVEST_ENV_INT64_KEY", 1)
	if err != nil {
		t.Fatalf("Int64() err=%v", err)
	}
	if got != 20_000_000 {
		t.Fatalf("Int64()=%d, want 20000000", got)
	}
}

func TestLoad_SkipsMissingAndKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("HARVEST_ENV_LOAD_A=from-file\nHARVEST_ENV_LOAD_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HARVEST_ENV_LOAD_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("HARVEST_ENV_LOAD_A") })

	if err := Load(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if got := String("HARVEST_ENV_LOAD_A", ""); got != "from-file" {
		t.Fatalf("A=%q, want from-file", got)
	}
	if got := String("HARVEST_ENV_LOAD_B", ""); got != "from-env" {
		t.Fatalf("B=%q, want from-env", got)
	}
}

func TestParsed_SetButEmptyIsError(t *testing.T) {
	t.Setenv("HARVEST_ENV_INT_EMPTY", "")
	if _, err := Int("HARVEST_ENV_INT_EMPTY", 3); err == nil {
		t.Fatalf("Int() expected error for empty value")
	}
	t.Setenv("HARVEST_ENV_BOOL_KEY", " true ")
	got, err := Bool("HARVEST_ENV_BOOL_KEY", false)
	if err != nil || !got {
		t.Fatalf("Bool()=%v err=%v", got, err)
	}
}
