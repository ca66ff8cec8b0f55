package fatfs

import "testing"

func TestChecksumDiffersForTransposedName(t *testing.T) {
	// "README  TXT" is the padded 8.3 form of README.TXT; the checksum
	// algorithm is order-sensitive so a transposed name must differ.
	var name [11]byte
	copy(name[:], "README  TXT")
	sum := Checksum(name)

	var other [11]byte
	copy(other[:], "READEM  TXT")
	if Checksum(other) == sum {
		t.Fatalf("checksum collided for transposed name, got %d for both", sum)
	}
}

func TestUTF16RoundTrip(t *testing.T) {
	cases := []string{"hello.txt", "long file name.dat", "a"}
	for _, s := range cases {
		units, err := EncodeUTF16LE(s)
		if err != nil {
			t.Fatalf("encode %q: %v", s, err)
		}
		got, err := DecodeUTF16LE(units)
		if err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: got %q want %q", got, s)
		}
	}
}

func TestShortNameForCollisions(t *testing.T) {
	taken := map[[11]byte]bool{}
	mark := func(s string) {
		n := ShortNameFor(s, func(n [11]byte) bool { return taken[n] })
		taken[n] = true
	}
	mark("somelongname.txt")
	mark("somelongname2.txt")
	n := ShortNameFor("somelongname3.txt", func(n [11]byte) bool { return taken[n] })
	for k := range taken {
		if k == n {
			t.Fatalf("ShortNameFor produced a name colliding with an existing entry: %q", TrimShortName(n))
		}
	}
}

func TestLongEntryFragmentOrdinals(t *testing.T) {
	units, err := EncodeUTF16LE("a fairly long file name that needs more than one fragment.txt")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var sfn [11]byte
	copy(sfn[:], "AFAIRL~1TXT")
	frags := buildLongEntries(units, sfn)
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}
	if !frags[0].IsLast() {
		t.Fatalf("first fragment on disk must carry the last-entry flag")
	}
	seen := map[byte]bool{}
	for _, f := range frags {
		if f.Checksum() != Checksum(sfn) {
			t.Fatalf("fragment checksum mismatch")
		}
		seen[f.Sequence()] = true
	}
	if len(seen) != len(frags) {
		t.Fatalf("fragment ordinals are not distinct: %v", seen)
	}
}
