package watcher

import (
	"bytes"
	"strings"
	"testing"
)

// TestLineBuffer_AllChunkSplits verifies that the same lines come out
// regardless of where the byte stream is split into chunks.
func TestLineBuffer_AllChunkSplits(t *testing.T) {
	input := []byte("first line\nsecond\r\nthird {\"json\":true}\n")
	want := []string{"first line", "second", "third {\"json\":true}"}

	for split := 0; split <= len(input); split++ {
		var b lineBuffer
		var got []string

		for _, chunk := range [][]byte{input[:split], input[split:]} {
			lines, dropped := b.append(chunk)
			if dropped != 0 {
				t.Fatalf("split %d: unexpected drop of %d bytes", split, dropped)
			}
			got = append(got, lines...)
		}

		if len(got) != len(want) {
			t.Fatalf("split %d: got %d lines %v, want %d", split, len(got), got, len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("split %d: line %d = %q, want %q", split, i, got[i], want[i])
			}
		}
	}
}

func TestLineBuffer_ByteAtATime(t *testing.T) {
	input := "a\nbb\nccc\n"
	var b lineBuffer
	var got []string
	for i := 0; i < len(input); i++ {
		lines, _ := b.append([]byte{input[i]})
		got = append(got, lines...)
	}
	want := []string{"a", "bb", "ccc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLineBuffer_EmptyLinesDropped(t *testing.T) {
	var b lineBuffer
	lines, _ := b.append([]byte("\n\r\nreal\n\n"))
	if len(lines) != 1 || lines[0] != "real" {
		t.Errorf("expected only %q, got %v", "real", lines)
	}
}

func TestLineBuffer_PartialLineStaysBuffered(t *testing.T) {
	var b lineBuffer
	lines, _ := b.append([]byte("no newline yet"))
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
	if b.pending() != len("no newline yet") {
		t.Errorf("pending = %d, want %d", b.pending(), len("no newline yet"))
	}

	lines, _ = b.append([]byte(" done\n"))
	if len(lines) != 1 || lines[0] != "no newline yet done" {
		t.Errorf("got %v, want the joined line", lines)
	}
	if b.pending() != 0 {
		t.Errorf("pending = %d after full line, want 0", b.pending())
	}
}

func TestLineBuffer_OverflowTruncatesToHalfCeiling(t *testing.T) {
	var b lineBuffer

	// Fill just under the ceiling with newline-free data, then push it over.
	first := bytes.Repeat([]byte("x"), maxBufferBytes)
	lines, dropped := b.append(first)
	if len(lines) != 0 || dropped != 0 {
		t.Fatalf("at ceiling: lines=%v dropped=%d, want none", lines, dropped)
	}

	_, dropped = b.append([]byte("y"))
	if dropped == 0 {
		t.Fatal("expected overflow drop, got none")
	}
	if b.pending() > keepBufferBytes {
		t.Errorf("pending = %d after truncation, want <= %d", b.pending(), keepBufferBytes)
	}

	// The newest bytes survive: a newline now yields a line ending in "y".
	lines, _ = b.append([]byte("\n"))
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "y") {
		t.Errorf("expected surviving line to end in %q, got %v", "y", lines)
	}
}

func TestLineBuffer_Reset(t *testing.T) {
	var b lineBuffer
	b.append([]byte("partial"))
	b.reset()
	if b.pending() != 0 {
		t.Errorf("pending = %d after reset, want 0", b.pending())
	}
	lines, _ := b.append([]byte("fresh\n"))
	if len(lines) != 1 || lines[0] != "fresh" {
		t.Errorf("expected %q after reset, got %v", "fresh", lines)
	}
}
