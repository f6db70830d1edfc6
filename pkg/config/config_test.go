package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
	Keep  string `yaml:"keep"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRead_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("FEDPOST_TEST_NAME", "from-env")
	p := writeFile(t, "c.yaml", "name: ${FEDPOST_TEST_NAME}\ncount: 3\n")

	s := sample{Keep: "default"}
	if err := Read(p, &s); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Name != "from-env" || s.Count != 3 || s.Keep != "default" {
		t.Errorf("got %+v", s)
	}
}

func TestRead_Errors(t *testing.T) {
	var s sample
	if err := Read(filepath.Join(t.TempDir(), "missing.yaml"), &s); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
	p := writeFile(t, "bad.yaml", "name: [unclosed\n")
	if err := Read(p, &s); err == nil {
		t.Error("expected parse error")
	}
}

func TestReadEnv(t *testing.T) {
	p := writeFile(t, ".env", "FEDPOST_TEST_A=file\nFEDPOST_TEST_B=file-only\n")
	t.Setenv("FEDPOST_TEST_A", "process")

	env, err := ReadEnv(p)
	if err != nil {
		t.Fatalf("ReadEnv: %v", err)
	}
	if env["FEDPOST_TEST_A"] != "process" {
		t.Errorf("A = %q, want process environment to win", env["FEDPOST_TEST_A"])
	}
	if env["FEDPOST_TEST_B"] != "file-only" {
		t.Errorf("B = %q", env["FEDPOST_TEST_B"])
	}
}

func TestReadEnv_MissingFile(t *testing.T) {
	t.Setenv("FEDPOST_TEST_C", "c")
	env, err := ReadEnv(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("ReadEnv: %v", err)
	}
	if env["FEDPOST_TEST_C"] != "c" {
		t.Errorf("C = %q", env["FEDPOST_TEST_C"])
	}
}
