package payload

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"testing"
)

// The templates are hand-aligned byte tables with trailing comments,
// which are easy to leave in a state gofmt would rewrite.
func TestSourceIsFormatted(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}

	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			t.Fatal(err)
		}

		formatted, err := format.Source(src)
		if err != nil {
			t.Fatalf("failed to format %s - %s", file, err)
		}

		if !bytes.Equal(src, formatted) {
			t.Fatalf("expected %s to be gofmt formatted", file)
		}
	}
}
