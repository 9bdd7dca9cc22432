package phone

import "testing"

func TestNormalizeE164_NationalNumberGetsRegionCode(t *testing.T) {
	if got := NormalizeE164("98765 43210", "IN"); got != "+919876543210" {
		t.Fatalf("expected +919876543210, got %q", got)
	}
	if got := NormalizeE164("919876543210", "IN"); got != "+919876543210" {
		t.Fatalf("expected +919876543210, got %q", got)
	}
	if got := NormalizeE164("+919876543210", "IN"); got != "+919876543210" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestNormalizeE164_Empty(t *testing.T) {
	if got := NormalizeE164("   ", "IN"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestVariants_AsGivenBarePlusNormalized(t *testing.T) {
	got := Variants("+919876543210", "IN")
	want := []string{"+919876543210", "919876543210"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	got = Variants("9876543210", "IN")
	if len(got) != 2 || got[0] != "9876543210" || got[1] != "+919876543210" {
		t.Fatalf("unexpected variants %v", got)
	}
}

func TestFallbackE164_PrefixesRegionCode(t *testing.T) {
	cases := map[string]struct{ in, region, want string }{
		"short national":  {"12345", "IN", "+9112345"},
		"leading zeros":   {"0012345", "US", "+112345"},
		"carries country": {"91 12345 678901", "IN", "+9112345678901"},
		"explicit plus":   {"+44 20", "IN", "+4420"},
	}
	for name, tc := range cases {
		if got := fallbackE164(tc.in, tc.region); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", name, tc.want, got)
		}
	}
}
