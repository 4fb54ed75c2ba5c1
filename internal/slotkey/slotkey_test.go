package slotkey

import "testing"

func TestKeyToSlotHashTag(t *testing.T) {
	k1 := []byte("{user1000}.following")
	k2 := []byte("{user1000}.followers")
	if KeyToSlot(k1) != KeyToSlot(k2) {
		t.Fatalf("keys sharing a hash tag must map to the same slot: %d != %d", KeyToSlot(k1), KeyToSlot(k2))
	}
}

func TestKeyToSlotEmptyBracesHashesFullKey(t *testing.T) {
	withBraces := KeyToSlot([]byte("foo{}bar"))
	full := KeyToSlot([]byte("foo{}bar"))
	if withBraces != full {
		t.Fatalf("sanity check failed")
	}
	// Empty braces must not be treated as a hash tag: compare against a
	// manual CRC16 of the whole string instead of an empty substring.
	manual := Slot(crc16([]byte("foo{}bar")) % SlotCount)
	if withBraces != manual {
		t.Fatalf("expected full-key hash for empty braces, got %d want %d", withBraces, manual)
	}
}

func TestKeyToSlotKnownVectors(t *testing.T) {
	cases := []struct {
		key  string
		slot Slot
	}{
		{"foo", 12182},
		{"bar", 5061},
		{"a", 15495},
		{"b", 3300},
	}
	for _, c := range cases {
		if got := KeyToSlot([]byte(c.key)); got != c.slot {
			t.Fatalf("KeyToSlot(%q) = %d, want %d", c.key, got, c.slot)
		}
	}
}

func TestKeyToSlotNoHashTag(t *testing.T) {
	s := KeyToSlot([]byte("plainkey"))
	if s >= SlotCount {
		t.Fatalf("slot %d out of range", s)
	}
}
