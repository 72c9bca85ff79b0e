package transformer_test

import (
	"testing"

	"mockrelay/internal/transformer"
)

func TestIsBinaryContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"image/png", true},
		{"application/octet-stream", true},
		{"Font/woff2", true},
		{"application/json", false},
		{"text/html; charset=utf-8", false},
	}
	for _, tt := range tests {
		if got := transformer.IsBinaryContentType(tt.ct); got != tt.want {
			t.Errorf("IsBinaryContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestEncodeBody(t *testing.T) {
	text, enc := transformer.EncodeBody([]byte(`{"ok":true}`), "application/json")
	if enc != "" || text != `{"ok":true}` {
		t.Errorf("got %q, %q", text, enc)
	}

	raw := []byte{0xff, 0xfe, 0x00}
	text, enc = transformer.EncodeBody(raw, "text/plain")
	if enc != "base64" {
		t.Fatalf("invalid utf-8 should be base64, got %q", enc)
	}
	back, err := transformer.DecodeBody(text, enc)
	if err != nil || string(back) != string(raw) {
		t.Errorf("DecodeBody() = %v, %v", back, err)
	}

	if text, enc := transformer.EncodeBody(nil, "image/png"); text != "" || enc != "" {
		t.Error("empty body should encode to empty")
	}
}

func TestTruncate(t *testing.T) {
	body := []byte("abcdef")
	if got, cut := transformer.Truncate(body, 3); string(got) != "abc" || !cut {
		t.Errorf("got %q, %v", got, cut)
	}
	if got, cut := transformer.Truncate(body, 0); string(got) != "abcdef" || cut {
		t.Errorf("got %q, %v", got, cut)
	}
}
