package transformer_test

import (
	"testing"

	"mockrelay/internal/transformer"
)

func TestParseCookies(t *testing.T) {
	got := transformer.ParseCookies("session=abc; theme=dark;broken; token=a=b")
	want := []transformer.Entry{{Name: "session", Value: "abc"}, {Name: "theme", Value: "dark"}, {Name: "token", Value: "a=b"}}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(transformer.ParseCookies("")) != 0 {
		t.Error("empty header should yield no cookies")
	}
}

func TestParseSetCookie(t *testing.T) {
	e, ok := transformer.ParseSetCookie("sid=42; Path=/; HttpOnly")
	if !ok || e.Name != "sid" || e.Value != "42" {
		t.Errorf("got %+v, %v", e, ok)
	}
	if _, ok := transformer.ParseSetCookie("; Path=/"); ok {
		t.Error("missing name should fail")
	}
}
