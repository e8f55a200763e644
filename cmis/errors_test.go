package cmis

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Errorf(KindConsistency, "createDocument", "object info missing for %q", "abc"))

	if !errors.Is(err, KindConsistency) {
		t.Fatalf("expected consistency kind in chain: %v", err)
	}
	if errors.Is(err, KindMalformedRequest) {
		t.Fatalf("did not expect malformed-request kind: %v", err)
	}
	if got := KindOf(err); got != KindConsistency {
		t.Fatalf("KindOf = %v, want %v", got, KindConsistency)
	}
}

func TestErrorfKeepsWrapped(t *testing.T) {
	err := Errorf(KindTransfer, "relay", "write failed: %w", io.ErrShortWrite)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected wrapped io.ErrShortWrite: %v", err)
	}
	if want := "cmis transfer: relay: write failed: short write"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesClassification(t *testing.T) {
	inner := Errorf(KindNotFound, "getObject", "no such object")
	if got := Wrap(KindRuntime, "outer", inner); got != error(inner) {
		t.Fatalf("Wrap re-classified an already classified error: %v", got)
	}
	if Wrap(KindRuntime, "x", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	plain := errors.New("boom")
	if got := KindOf(Wrap(KindConnection, "build", plain)); got != KindConnection {
		t.Fatalf("KindOf = %v, want connection", got)
	}
	if got := KindOf(plain); got != KindRuntime {
		t.Fatalf("KindOf(plain) = %v, want runtime", got)
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := range kindNames {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if ParseKind("nonsense") != KindRuntime {
		t.Error("unknown names should map to runtime")
	}
}

func TestParseLogicalService(t *testing.T) {
	for _, s := range LogicalServices() {
		got, err := ParseLogicalService(s.Key())
		if err != nil || got != s {
			t.Errorf("ParseLogicalService(%q) = %v, %v", s.Key(), got, err)
		}
	}
	if _, err := ParseLogicalService("teleport"); err == nil {
		t.Error("expected error for unknown service")
	}
	if LogicalService(42).Valid() {
		t.Error("42 should not be a valid service")
	}
}
