package content

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	out := Render("hello *world*")
	if !strings.Contains(out, "<em>world</em>") {
		t.Errorf("expected emphasis in output, got %q", out)
	}

	out = Render(`<script>alert("xss")</script>hi`)
	if strings.Contains(out, "<script>") {
		t.Errorf("script tag survived sanitization: %q", out)
	}
	if !strings.Contains(out, "hi") {
		t.Errorf("text content lost: %q", out)
	}
}

func TestSanitize(t *testing.T) {
	out := Sanitize(`<img src=x onerror=alert(1)>name`)
	if strings.Contains(out, "onerror") {
		t.Errorf("event handler survived sanitization: %q", out)
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "bob.smith", "user_1", "a-b"}
	for _, u := range valid {
		if err := ValidateUsername(u); err != nil {
			t.Errorf("expected %q to be valid: %v", u, err)
		}
	}

	invalid := []string{"", "with space", "semi;colon", "слово", "a/b"}
	for _, u := range invalid {
		if err := ValidateUsername(u); err == nil {
			t.Errorf("expected %q to be invalid", u)
		}
	}
}
