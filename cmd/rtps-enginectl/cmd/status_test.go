package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintSnapshotOrdersKeysAlphabetically(t *testing.T) {
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	defer func() { stdout = orig }()

	printSnapshot(map[string]interface{}{
		"writers":   2,
		"endpoints": 5,
		"readers":   1,
	})

	out := buf.String()
	endpointsIdx := strings.Index(out, "endpoints")
	readersIdx := strings.Index(out, "readers")
	writersIdx := strings.Index(out, "writers")
	if !(endpointsIdx < readersIdx && readersIdx < writersIdx) {
		t.Fatalf("expected alphabetically ordered keys, got %q", out)
	}
}
