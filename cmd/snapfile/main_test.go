package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adityalohuni/uidsnap/internal/page"
)

const sample = `<html><head><title>Sample</title></head><body>
<header><a href="/">Home</a></header>
<main id="main"><h1>Welcome</h1><button>Start</button></main>
</body></html>`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.html")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestRunText(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, writeSample(t), options{iframes: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	for _, want := range []string{"# Sample", "snapshot=1", `"Start"`, "uid=1_"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunJSONScoped(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, writeSample(t), options{selector: "#main", asJSON: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var snap page.Snapshot
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Root == nil || snap.Root.Tag != "main" || strings.Contains(out.String(), "Home") {
		t.Fatalf("scope not applied: %s", out.String())
	}
}

func TestRunResolve(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, writeSample(t), options{resolve: "1_1"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var entry page.UIDEntry
	if err := json.Unmarshal(out.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.UID != "1_1" || entry.CSS == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	err := run(context.Background(), &bytes.Buffer{}, writeSample(t), options{resolve: "first"})
	if err == nil || !strings.Contains(err.Error(), "1_1") {
		t.Fatalf("expected format hint, got %v", err)
	}
}

func TestRunMissingSelector(t *testing.T) {
	err := run(context.Background(), &bytes.Buffer{}, writeSample(t), options{selector: "#nope"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected selector error, got %v", err)
	}
}

func TestRunMaxElementsTruncates(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, writeSample(t), options{maxElems: 4}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "truncated") || strings.Contains(got, `"Start"`) {
		t.Fatalf("capture cap not applied:\n%s", got)
	}
}
