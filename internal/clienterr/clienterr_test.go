package clienterr

import (
	"errors"
	"testing"
)

func TestNewErrorMessage(t *testing.T) {
	err := New(CrossSlot, "keys span multiple shards")
	if err.Error() != "CrossSlot: keys span multiple shards" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapIncludesCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := Wrap(NoNode, "failed to connect", cause)
	if err.Unwrap() != cause {
		t.Fatal("expected Unwrap to return the wrapped cause")
	}
	want := "NoNode: failed to connect: dial refused"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(UnsupportedCommand, "no such command")
	if !Is(err, UnsupportedCommand) {
		t.Fatal("expected Is to match the same kind")
	}
	if Is(err, CrossSlot) {
		t.Fatal("expected Is to reject a different kind")
	}
}

func TestIsFalseForUnrelatedError(t *testing.T) {
	if Is(errors.New("plain error"), NoNode) {
		t.Fatal("expected Is to reject a non-clienterr error")
	}
}

func TestIsUnwrapsWrappedError(t *testing.T) {
	inner := New(MissingNode, "ask target unknown")
	outer := Wrap(ConnectionClosed, "retry failed", inner)
	if !Is(outer, ConnectionClosed) {
		t.Fatal("expected Is to match the outer kind directly")
	}
	wrapped := errors.Unwrap(error(outer))
	if !Is(wrapped, MissingNode) {
		t.Fatal("expected Is to match the inner error once unwrapped")
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 999
	if k.String() != "Unknown" {
		t.Fatalf("expected Unknown for out-of-range kind, got %q", k.String())
	}
}

func TestKindStringKnownValues(t *testing.T) {
	cases := map[Kind]string{
		UnsupportedCommand: "UnsupportedCommand",
		CrossSlot:          "CrossSlot",
		MissingNode:        "MissingNode",
		NoNode:             "NoNode",
		ConnectionClosed:   "ConnectionClosed",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("kind %d: got %q want %q", k, got, want)
		}
	}
}
