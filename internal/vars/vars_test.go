// internal/vars/vars_test.go
package vars_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"ui-qa/internal/vars"
)

func TestLoadJSONFiles(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "env.json")
	if err := os.WriteFile(fp, []byte(`{"BASE_URL":"http://x","NUM":42,"BOOL":true}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := vars.LoadJSONFiles([]string{fp})
	if err != nil {
		t.Fatalf("LoadJSONFiles: %v", err)
	}
	if m["BASE_URL"] != "http://x" {
		t.Fatalf("BASE_URL = %q", m["BASE_URL"])
	}
	if m["NUM"] != "42" {
		t.Fatalf("NUM = %q, want 42", m["NUM"])
	}
	if m["BOOL"] != "true" {
		t.Fatalf("BOOL = %q, want true", m["BOOL"])
	}
}

func TestInterpolate(t *testing.T) {
	v := map[string]string{"BASE_URL": "http://localhost:8000"}

	if got := vars.Interpolate("${BASE_URL}/index.html", v); got != "http://localhost:8000/index.html" {
		t.Fatalf("got %q", got)
	}
	if got := vars.Interpolate("${YEAR|2024}", v); got != "2024" {
		t.Fatalf("default not applied: %q", got)
	}
	if got := vars.Interpolate("${MISSING}", v); got != "${MISSING}" {
		t.Fatalf("missing var should stay intact, got %q", got)
	}
	if diff := cmp.Diff([]string{"${MISSING}"}, vars.Unresolved("${MISSING} ${YEAR|1}")); diff != "" {
		t.Fatalf("unresolved mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_LaterWins(t *testing.T) {
	got := vars.Merge(map[string]string{"A": "1", "B": "1"}, map[string]string{"B": "2"})
	if diff := cmp.Diff(map[string]string{"A": "1", "B": "2"}, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}
