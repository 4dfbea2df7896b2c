package token

import (
	"strings"
	"testing"
)

func TestIssueFormat(t *testing.T) {
	tok := Issue("abc123")
	if !strings.HasPrefix(tok, "RQ-abc123-") {
		t.Errorf("token = %q, want RQ-<group>-<uuid> format", tok)
	}
	if tok == Issue("abc123") {
		t.Error("two issued tokens collided")
	}
}
