package gpuname

import "testing"

func TestFormatPCIID(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   uint32
		want string
	}{
		{0x10de, "10de"},
		{0x1002, "1002"},
		{0x2, "0002"},
		{0x1abcd, "abcd"},
	}
	for _, tc := range testCases {
		if got := formatPCIID(tc.in); got != tc.want {
			t.Fatalf("formatPCIID(%#x) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVendorNameAlwaysResolves(t *testing.T) {
	t.Parallel()

	// Whether or not a pci.ids database is present, a non-empty label
	// comes back for known and unknown vendors alike.
	if name := VendorName(0x10de); name == "" {
		t.Fatalf("expected a vendor name for 0x10de")
	}
	if name := VendorName(0xfff9); name != "vendor fff9" {
		t.Fatalf("unexpected fallback label %q", name)
	}
}
