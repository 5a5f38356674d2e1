package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/honeyhiveai/honeyhive-go/core"
)

func TestLoad_Embedded(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Version == "" {
		t.Error("Version is empty")
	}
	if len(b.Providers) == 0 {
		t.Error("no providers in bundle")
	}
	if len(b.Fields) == 0 {
		t.Error("no field rules in bundle")
	}

	// Memoized: same pointer on repeat.
	b2, err := Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if b != b2 {
		t.Error("Load should memoize and return the same bundle")
	}
}

func TestMetadata(t *testing.T) {
	md, err := Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.BuildTime == "" || md.SourceVersion == "" {
		t.Errorf("incomplete metadata: %+v", md)
	}
}

func TestLoad_MissingArtifact(t *testing.T) {
	l := NewLoader(WithPath(filepath.Join(t.TempDir(), "nope.json")))
	_, err := l.Load()
	if !errors.Is(err, &core.Error{Code: core.ErrBundleMissing}) {
		t.Errorf("err = %v, want bundle_missing", err)
	}
}

func TestLoad_CorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(WithPath(path))
	_, err := l.Load()
	if !errors.Is(err, &core.Error{Code: core.ErrBundleCorrupt}) {
		t.Errorf("err = %v, want bundle_corrupt", err)
	}

	// Error is memoized too.
	_, err2 := l.Load()
	if err2 != err {
		t.Error("memoized error expected")
	}
}

func TestExactMatch(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	canon := CanonicalSignature([]string{"gen_ai.openai.api_base", "gen_ai.system"})
	id, ok := b.ExactMatch(canon)
	if !ok {
		t.Fatal("expected exact match")
	}
	p, ok := b.PatternTarget(id)
	if !ok || p.Provider != "openai" || p.Instrumentor != "traceloop" {
		t.Errorf("pattern = %+v", p)
	}

	if _, ok := b.ExactMatch(CanonicalSignature([]string{"random.key"})); ok {
		t.Error("unexpected match")
	}
}

func TestCanonicalSignature_OrderIndependent(t *testing.T) {
	a := CanonicalSignature([]string{"b", "a", "c"})
	b := CanonicalSignature([]string{"c", "b", "a"})
	if a != b {
		t.Errorf("canonical forms differ: %q vs %q", a, b)
	}
}

func TestSubsetMatch(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	keys := map[string]struct{}{
		"gen_ai.system":             {},
		"gen_ai.anthropic.version":  {},
		"gen_ai.request.model":      {},
		"gen_ai.usage.total_tokens": {},
	}
	id, ok := b.SubsetMatch(keys)
	if !ok {
		t.Fatal("expected subset match")
	}
	p, _ := b.PatternTarget(id)
	if p.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", p.Provider)
	}

	if _, ok := b.SubsetMatch(map[string]struct{}{"x": {}}); ok {
		t.Error("unexpected subset match")
	}
}

func TestPrice(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	p, ok := b.Price("openai", "gpt-4o")
	if !ok {
		t.Fatal("expected pricing entry for openai/gpt-4o")
	}
	if p.Prompt <= 0 || p.Completion <= 0 {
		t.Errorf("price = %+v", p)
	}
	if _, ok := b.Price("openai", "made-up-model"); ok {
		t.Error("missing model should not price")
	}
}

func TestStale(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "bundle.json")
	src := filepath.Join(dir, "rules")
	if err := os.WriteFile(artifact, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(src, 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(WithPath(artifact))

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(src, old, old); err != nil {
		t.Fatal(err)
	}
	if l.Stale(src) {
		t.Error("artifact newer than sources should not be stale")
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, future, future); err != nil {
		t.Fatal(err)
	}
	if !l.Stale(src) {
		t.Error("sources newer than artifact should be stale")
	}

	// Embedded loader never reports stale.
	if NewLoader().Stale(src) {
		t.Error("embedded artifact is never stale")
	}
}
