package hash

import (
	"strings"
	"testing"
)

func TestSHA256(t *testing.T) {
	tests := []struct {
		input []byte
		want  string
	}{
		{
			[]byte("hello"),
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		},
		{
			[]byte(""),
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			got := SHA256(tt.input)
			if got != tt.want {
				t.Errorf("SHA256(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDigest(t *testing.T) {
	got := Digest([]byte("hello"))
	if !strings.HasPrefix(got, "sha256:") {
		t.Fatalf("Digest() = %s, want sha256: prefix", got)
	}
	if strings.TrimPrefix(got, "sha256:") != SHA256([]byte("hello")) {
		t.Errorf("Digest() = %s, want sha256 of input", got)
	}
	if Digest([]byte("a")) == Digest([]byte("b")) {
		t.Error("Digest() collides for different inputs")
	}
}
