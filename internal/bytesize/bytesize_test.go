package bytesize

import "testing"

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want ByteSize
	}{
		{"1024", 1024},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"4Mi", 4 * MiB},
		{"1Gi", GiB},
		{"100MB", 100 * MB},
		{"1.5Ki", ByteSize(1.5 * float64(KiB))},
		{"512", 512},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1Xi", "--1"} {
		if _, err := ParseByteSize(in); err == nil {
			t.Errorf("ParseByteSize(%q): expected error", in)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("2Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 2*MiB {
		t.Errorf("got %d, want %d", b, 2*MiB)
	}
}

func TestString(t *testing.T) {
	if got := ByteSize(512).String(); got != "512B" {
		t.Errorf("got %q", got)
	}
	if got := (4 * MiB).String(); got != "4.00MiB" {
		t.Errorf("got %q", got)
	}
}
