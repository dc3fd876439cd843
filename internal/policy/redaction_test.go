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

func TestRedactPIIMasksAPIKeys(t *testing.T) {
	out, changed := RedactPII("I pasted sk-abcdefghijklmnop1234 into the chat by mistake")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if !strings.Contains(out, "[REDACTED_KEY]") || strings.Contains(out, "sk-abc") {
		t.Fatalf("key not masked: %q", out)
	}
}

func TestRedactPIILeavesPlainText(t *testing.T) {
	in := "Shipped the release two days early."
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v; want unchanged", in, out, changed)
	}
}
