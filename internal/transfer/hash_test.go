package transfer

import (
	"bytes"
	"strings"
	"testing"
)

func TestHashKnownVector(t *testing.T) {
	// BLAKE3 of the empty input.
	const empty = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	got, err := Hash(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if got != empty {
		t.Errorf("expected %s, got %s", empty, got)
	}
}

func TestHashDependsOnContent(t *testing.T) {
	a, _ := Hash(bytes.NewReader(randomBytes(1000)))
	b, _ := Hash(bytes.NewReader(randomBytes(1001)))
	if a == b {
		t.Error("different inputs produced the same hash")
	}
	again, _ := Hash(bytes.NewReader(randomBytes(1000)))
	if a != again {
		t.Error("hash is not deterministic")
	}
}
