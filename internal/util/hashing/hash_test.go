package hashing

import (
	"strings"
	"testing"
)

func TestFormatParse(t *testing.T) {
	sum := Sum([]byte("hello world"))
	s := Format(sum)
	if s != "bc62d4b80d9e36da29c16c5d4d9f11731f36052c72401a76c23c0fb5a9b74423" {
		t.Fatalf("Format = %s", s)
	}

	got, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != sum {
		t.Errorf("Parse(Format(x)) = %x, want %x", got, sum)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"long", strings.Repeat("a", 66)},
		{"not hex", strings.Repeat("z", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestIsHex(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{strings.Repeat("0", 64), true},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", true},
		{"E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855", false},
		{strings.Repeat("0", 63), false},
		{strings.Repeat("g", 64), false},
	}

	for _, tt := range tests {
		if got := IsHex(tt.input); got != tt.want {
			t.Errorf("IsHex(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestBlobDir(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{"abcdef1234", "ab"},
		{"a", "a"},
		{"", ""},
	}

	for _, tt := range tests {
		got := BlobDir(tt.hash)
		if got != tt.want {
			t.Errorf("BlobDir(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}
