package mediafile

import (
	"strings"
	"testing"
)

func TestName(t *testing.T) {
	// Deterministic: same record and URL give the same name
	n1 := Name(42, "https://images.airstory.co/v1/prod/i-1/image.jpg")
	n2 := Name(42, "https://images.airstory.co/v1/prod/i-1/image.jpg")
	if n1 != n2 {
		t.Errorf("same input should give same name: %q vs %q", n1, n2)
	}
	if !strings.HasPrefix(n1, "r42/") {
		t.Errorf("name should live under the record directory: %q", n1)
	}
	if !strings.HasSuffix(n1, "-image.jpg") {
		t.Errorf("name should keep the base name: %q", n1)
	}
}

func TestName_differentInputs(t *testing.T) {
	a := Name(1, "https://images.airstory.co/v1/prod/i-1/image.jpg")
	b := Name(1, "https://images.airstory.co/v1/prod/i-2/image.jpg")
	c := Name(2, "https://images.airstory.co/v1/prod/i-1/image.jpg")
	if a == b {
		t.Errorf("different URLs should give different names: %q", a)
	}
	if a == c {
		t.Errorf("different records should give different names: %q", a)
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/a/b/photo.png", "photo.png"},
		{"https://example.com/a/b/photo.png?w=100", "photo.png"},
		{"https://example.com/", "file"},
		{"https://example.com/a/we ird&name.gif", "we_ird_name.gif"},
		{"https://example.com/..", "file"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.in); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
