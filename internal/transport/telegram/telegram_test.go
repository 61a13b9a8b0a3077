package telegram

import (
	"strings"
	"testing"

	"newsfan/pkg/logx"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v, want single chunk", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 50)
	got := splitText(text, 60)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
	if strings.Contains(got[0], "b") || strings.Contains(got[1], "a") {
		t.Fatalf("split tore across the newline: %q | %q", got[0], got[1])
	}
}

func TestSplitTextHardSplitWithoutNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 250)
	got := splitText(text, 100)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	total := 0
	for i, c := range got {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("reassembled length = %d, want 250", total)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
