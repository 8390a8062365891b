package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIMasksIBAN(t *testing.T) {
	out, changed := RedactPII("pay to DE89 3704 0044 0532 0130 00 please")
	if !changed || !strings.Contains(out, "[REDACTED_IBAN]") {
		t.Fatalf("IBAN not redacted: %q", out)
	}
}

func TestRedactPIILeavesShoppingTextAlone(t *testing.T) {
	in := "add 2 coffee mugs to my cart"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
}

func TestForLogTruncatesAndCollapses(t *testing.T) {
	got := ForLog("hello\n\n   sam@example.com   and a very long tail", 20)
	if strings.Contains(got, "sam@example.com") {
		t.Fatalf("ForLog leaked an email: %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Fatalf("ForLog kept newlines: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("ForLog did not truncate: %q", got)
	}
}
