package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package x\n\nimport (\n\t\"fmt\"\n\t\"synister/internal/pipeline\"\n)\n\nvar _ = fmt.Sprint\nvar _ = pipeline.Partition\n")
	writeGo(t, dir, "a_test.go", "package x\n\nimport _ \"synister/internal/config\"\n")
	writeGo(t, dir, "notes.txt", "import \"synister/internal/core\"")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "synister/internal/pipeline") {
		t.Fatalf("unexpected violations %v", viols)
	}

	var rec recordingFatal
	failIfDirectViolations(&rec, "layering", viols)
	if !strings.Contains(rec.msg, "layering") || !strings.Contains(rec.msg, "a.go") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
	rec = recordingFatal{}
	failIfDirectViolations(&rec, "layering", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail")
	}
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "broken.go", "package x\nimport (\n")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestPrefixForbidden(t *testing.T) {
	forbidden := PrefixForbidden("synister/internal/infra", "synister/cmd")
	cases := map[string]bool{
		"synister/internal/infra":                    true,
		"synister/internal/infra/persistence/sqlite": true,
		"synister/internal/infrastructure":           false,
		"synister/cmd/synister":                      true,
		"synister/internal/core":                     false,
	}
	for path, want := range cases {
		if got := forbidden(path); got != want {
			t.Fatalf("PrefixForbidden(%q) = %v, want %v", path, got, want)
		}
	}
}
