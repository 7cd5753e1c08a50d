package chunk

import (
	"errors"
	"strings"
	"testing"

	"github.com/lawgpt/lawgpt/engine/domain"
)

func TestSplit_Empty(t *testing.T) {
	got, err := Split("", 800, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no windows, got %d", len(got))
	}
}

func TestSplit_InvalidParams(t *testing.T) {
	cases := [][2]int{{0, 0}, {-1, 0}, {800, 0}, {800, -5}, {100, 100}, {100, 150}}
	for _, c := range cases {
		_, err := Split("some text", c[0], c[1])
		if !errors.Is(err, domain.ErrInvalidChunkParams) {
			t.Errorf("size=%d overlap=%d: expected ErrInvalidChunkParams, got %v", c[0], c[1], err)
		}
		if domain.KindOf(err) != domain.KindInput {
			t.Errorf("size=%d overlap=%d: expected input kind", c[0], c[1])
		}
	}
}

func TestSplit_TwoThousandChars(t *testing.T) {
	text := strings.Repeat("abcdefghij", 200)
	got, err := Split(text, 800, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(got))
	}
	want := []int{0, 700, 1400}
	for i, w := range got {
		if w.Offset != want[i] {
			t.Errorf("window %d: offset %d, want %d", i, w.Offset, want[i])
		}
	}
	if len(got[2].Text) != 600 {
		t.Errorf("tail window length %d, want 600", len(got[2].Text))
	}
}

func TestSplit_ShortText(t *testing.T) {
	got, err := Split("short lease", 800, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "short lease" || got[0].Offset != 0 {
		t.Fatalf("unexpected windows: %+v", got)
	}
}

func TestSplit_ExactFit(t *testing.T) {
	// A window ending exactly at the text end must not be re-emitted.
	text := strings.Repeat("x", 1500)
	got, _ := Split(text, 800, 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(got))
	}
	if got[1].Offset != 700 || len(got[1].Text) != 800 {
		t.Fatalf("unexpected tail: offset=%d len=%d", got[1].Offset, len(got[1].Text))
	}
}

func TestSplit_CoverageAndOverlap(t *testing.T) {
	text := strings.Repeat("The lessee shall pay rent monthly. ", 97)
	for _, p := range [][2]int{{50, 10}, {200, 199}, {64, 1}, {800, 100}} {
		size, overlap := p[0], p[1]
		got, err := Split(text, size, overlap)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != Count(len(text), size, overlap) {
			t.Fatalf("size=%d overlap=%d: %d windows, Count says %d", size, overlap, len(got), Count(len(text), size, overlap))
		}

		// Rebuild the source from each window's non-overlapping part.
		var b strings.Builder
		for i, w := range got {
			if w.Text == "" {
				t.Fatalf("window %d is empty", i)
			}
			if i == 0 {
				b.WriteString(w.Text)
				continue
			}
			prev := got[i-1]
			shared := prev.Offset + len(prev.Text) - w.Offset
			if shared != overlap {
				t.Fatalf("size=%d overlap=%d: window %d shares %d chars", size, overlap, i, shared)
			}
			if prev.Text[len(prev.Text)-shared:] != w.Text[:shared] {
				t.Fatalf("window %d overlap text differs", i)
			}
			b.WriteString(w.Text[shared:])
		}
		if b.String() != text {
			t.Fatalf("size=%d overlap=%d: reconstruction differs", size, overlap)
		}
	}
}

func TestSplit_RuneOffsets(t *testing.T) {
	text := strings.Repeat("§¶", 10) // 20 runes, 40 bytes
	got, err := Split(text, 8, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 6, 12}
	if len(got) != len(want) {
		t.Fatalf("expected %d windows, got %d", len(want), len(got))
	}
	for i, w := range got {
		if w.Offset != want[i] {
			t.Errorf("window %d offset %d, want %d", i, w.Offset, want[i])
		}
	}
	if got[0].Text != "§¶§¶§¶§¶" {
		t.Errorf("first window split a rune: %q", got[0].Text)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("statute ", 300)
	a, _ := Split(text, 120, 30)
	b, _ := Split(text, 120, 30)
	if len(a) != len(b) {
		t.Fatal("window counts differ")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("window %d differs", i)
		}
	}
}

func TestCount(t *testing.T) {
	cases := []struct{ n, size, overlap, want int }{
		{0, 800, 100, 0},
		{1, 800, 100, 1},
		{800, 800, 100, 1},
		{801, 800, 100, 2},
		{1500, 800, 100, 2},
		{1501, 800, 100, 3},
		{2000, 800, 100, 3},
		{10, 0, 0, 0},
	}
	for _, c := range cases {
		if got := Count(c.n, c.size, c.overlap); got != c.want {
			t.Errorf("Count(%d,%d,%d) = %d, want %d", c.n, c.size, c.overlap, got, c.want)
		}
	}
}
