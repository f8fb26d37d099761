package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 30) + "\n" + strings.Repeat("y", 30)
	got := splitText(text, 40)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
	if !strings.HasSuffix(got[0], "\n") {
		t.Fatalf("first chunk does not end at the newline: %q", got[0])
	}
	if got[0]+got[1] != text {
		t.Fatal("chunks do not reassemble to the input")
	}
}

func TestSplitTextHardWrapWithoutNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("z", 95)
	got := splitText(text, 40)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	var total int
	for _, c := range got {
		if len(c) > 40 {
			t.Fatalf("chunk over limit: %d runes", len(c))
		}
		total += len(c)
	}
	if total != 95 {
		t.Fatalf("lost content: %d runes total", total)
	}
}
