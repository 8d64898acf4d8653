package main

import (
	"bytes"
	"testing"
)

func TestPrintFilesSorted(t *testing.T) {
	var buf bytes.Buffer
	printFiles(&buf, map[string]string{
		"b.txt": "/srv/b.txt",
		"a.txt": "/srv/a.txt",
	})
	want := "a.txt (/srv/a.txt)\nb.txt (/srv/b.txt)\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestPrintFilesEmpty(t *testing.T) {
	var buf bytes.Buffer
	printFiles(&buf, nil)
	if buf.String() != "No shared files\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}
