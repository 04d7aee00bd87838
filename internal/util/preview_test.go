package util

import (
	"strings"
	"testing"
)

func TestPreviewTruncates(t *testing.T) {
	out := Preview("Hello\x00   world \n\t again", 8)
	if out != "Hello wo..." {
		t.Fatalf("unexpected preview: %q", out)
	}
}

func TestEvidencePreview(t *testing.T) {
	text := "This paper studies yeast. It measures gene expression during adaptation. Appendix follows."
	out := EvidencePreview(text, "Which genes matter in adaptation?", 200)
	if !strings.Contains(out, "adaptation") {
		t.Fatalf("expected adaptation sentence, got %q", out)
	}
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint("data/raw/papers/a.pdf")
	if a != Fingerprint("data/raw/papers/a.pdf") || len(a) != 64 {
		t.Fatalf("unexpected fingerprint %q", a)
	}
	if a == Fingerprint("data/raw/papers/b.pdf") {
		t.Fatalf("distinct sources share a fingerprint")
	}
}
