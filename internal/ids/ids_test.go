package ids

import "testing"

func TestCodecDeterministic(t *testing.T) {
	c, err := NewCodec("esusu-test", 11)
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.Encode(42)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(42)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("encode not stable: %q != %q", a, b)
	}
}

func TestCodecMinLength(t *testing.T) {
	c, err := NewCodec("esusu-test", 0) // raised to DefaultMinLength
	if err != nil {
		t.Fatal(err)
	}
	for _, pk := range []int64{1, 7, 1000, 987654321} {
		public, err := c.Encode(pk)
		if err != nil {
			t.Fatal(err)
		}
		if len(public) < DefaultMinLength {
			t.Fatalf("Encode(%d) = %q, shorter than %d chars", pk, public, DefaultMinLength)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := NewCodec("esusu-test", 11)
	if err != nil {
		t.Fatal(err)
	}
	for _, pk := range []int64{1, 2, 3, 500, 123456} {
		public, err := c.Encode(pk)
		if err != nil {
			t.Fatal(err)
		}
		got, err := c.Decode(public)
		if err != nil {
			t.Fatal(err)
		}
		if got != pk {
			t.Fatalf("round trip: got %d, want %d", got, pk)
		}
	}
}

func TestCodecSaltsDiffer(t *testing.T) {
	c1, _ := NewCodec("salt-one", 11)
	c2, _ := NewCodec("salt-two", 11)
	a, _ := c1.Encode(99)
	b, _ := c2.Encode(99)
	if a == b {
		t.Fatalf("different salts produced identical ids: %q", a)
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
