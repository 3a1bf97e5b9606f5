package collector

import (
	"strings"
	"testing"

	"github.com/google/go-github/v57/github"
)

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		in          string
		owner, name string
		wantErr     bool
	}{
		{"acme/widgets", "acme", "widgets", false},
		{"acme", "", "", true},
		{"/widgets", "", "", true},
		{"acme/", "", "", true},
	}

	for _, tt := range tests {
		owner, name, err := splitRepo(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitRepo(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitRepo(%q): %v", tt.in, err)
			continue
		}
		if owner != tt.owner || name != tt.name {
			t.Errorf("splitRepo(%q) = %q, %q; want %q, %q", tt.in, owner, name, tt.owner, tt.name)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	title, body := splitMessage("Fix race in watcher\n\nThe init path read state without the lock.")
	if title != "Fix race in watcher" {
		t.Errorf("title = %q", title)
	}
	if body != "The init path read state without the lock." {
		t.Errorf("body = %q", body)
	}

	title, body = splitMessage("One-liner")
	if title != "One-liner" || body != "" {
		t.Errorf("one-line message: %q / %q", title, body)
	}
}

func TestDiffSnippetBounds(t *testing.T) {
	longPatch := strings.Repeat("+x\n", 200)
	files := []*github.CommitFile{
		{Filename: github.String("a.go"), Patch: github.String(longPatch)},
		{Filename: github.String("b.go"), Patch: github.String("+short")},
		{Filename: github.String("c.go"), Patch: github.String("+short")},
		{Filename: github.String("d.go"), Patch: github.String("+never sampled")},
	}

	snippet := diffSnippet(files)

	if strings.Contains(snippet, "d.go") {
		t.Error("snippet should sample at most three files")
	}
	if !strings.Contains(snippet, "File: a.go") || !strings.Contains(snippet, "File: b.go") {
		t.Errorf("snippet missing sampled files: %q", snippet)
	}
	for _, part := range strings.Split(snippet, "\n\n") {
		if len(part) > diffCharsPerFile+len("File: x.go\n") {
			t.Errorf("per-file bound exceeded: %d chars", len(part))
		}
	}
}

func TestDiffSnippetSkipsBinaryFiles(t *testing.T) {
	files := []*github.CommitFile{
		{Filename: github.String("image.png")}, // no patch for binary files
		{Filename: github.String("main.go"), Patch: github.String("+code")},
	}

	snippet := diffSnippet(files)
	if strings.Contains(snippet, "image.png") {
		t.Error("patchless files should be skipped")
	}
	if !strings.Contains(snippet, "main.go") {
		t.Error("expected main.go in snippet")
	}
}
