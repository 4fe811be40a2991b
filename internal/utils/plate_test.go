package utils

import "testing"

func TestNormalizePlate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"123456789", "123456789"},
		{"۱۲۳۴۵۶۷۸۹", "123456789"},
		{"١٢٣٤٥٦٧٨٩", "123456789"},
		{"12 345 67 89", "123456789"},
		{"12-345-6789", "123456789"},
		{"  123456789  ", "123456789"},
		{"12_3456789", "123456789"},
	}
	for _, tt := range tests {
		if got := NormalizePlate(tt.in); got != tt.want {
			t.Errorf("NormalizePlate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidPlate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wildcard bool
		want     bool
	}{
		{"well-formed", "123456789", false, true},
		{"lowest alphabet code", "121056789", false, true},
		{"highest alphabet code", "126956789", false, true},
		{"alphabet code too low", "120956789", false, false},
		{"alphabet code too high", "127056789", false, false},
		{"too short", "12345678", false, false},
		{"too long", "1234567890", false, false},
		{"empty", "", false, false},
		{"letters", "12a456789", false, false},
		{"unfolded persian digits", "۱۲۳۴۵۶۷۸۹", false, false},
		{"wildcard rejected without flag", "12?456789", false, false},
		{"wildcard accepted in queries", "12?456789", true, true},
		{"all wildcards", "?????????", true, true},
		{"wildcard in alphabet code skips range check", "12?056789", true, true},
		{"bad code not excused by other wildcards", "1209?6789", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPlate(tt.in, tt.wildcard); got != tt.want {
				t.Errorf("ValidPlate(%q, %v) = %v, want %v", tt.in, tt.wildcard, got, tt.want)
			}
		})
	}
}

func TestWildcardToLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"123456789", "123456789"},
		{"12?456789", "12_456789"},
		{"?????????", "_________"},
		{"12%456789", `12\%456789`},
		{"12_456789", `12\_456789`},
		{`12\456789`, `12\\456789`},
	}
	for _, tt := range tests {
		if got := WildcardToLike(tt.in); got != tt.want {
			t.Errorf("WildcardToLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDisplayPlate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"123456789", "12 ک 567 89"},
		{"121056789", "12 الف 567 89"},
		{"129956789", "12 99 567 89"}, // unknown code falls back to digits
		{"12345", "12345"},            // malformed input passes through
	}
	for _, tt := range tests {
		if got := DisplayPlate(tt.in); got != tt.want {
			t.Errorf("DisplayPlate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
