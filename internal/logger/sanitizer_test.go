package logger

import (
	"errors"
	"testing"
)

func TestSanitizer_Sanitize(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"password", "login with password=secret123", "login with password=***"},
		{"token query", "GET /files?access_token=abc123xyz", "GET /files?access_token=***"},
		{"bearer header", "Authorization: Bearer eyJhbGc...", "Authorization: bearer ***"},
		{"client secret", "oauth client_secret=GOCSPX-abc", "oauth client_secret=***"},
		{"bare access token", "refresh gave ya29.a0AfH6SMBx-9_z", "refresh gave ya29.***"},
		{"bare refresh token", "stored 1//0gLxAbCdEfGhIjKlMnOpQrSt", "stored 1//***"},
		{"bare client secret", "using GOCSPX-s3cr3t", "using GOCSPX-***"},
		{"windows user path", "vault at C:\\Users\\john\\Notes\\a.md", "vault at ***:\\Users\\***\\Notes\\a.md"},
		{"unix home path", "watching /home/alice/notes", "watching /home/***/notes"},
		{"mac home path", "watching /Users/alice/notes", "watching /Users/***/notes"},
		{"email", "drive owner john.doe@example.com", "drive owner joh***@example.com"},
		{"plain", "uploaded notes/a.md", "uploaded notes/a.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSanitizer_SanitizeArgs(t *testing.T) {
	s := NewSanitizer()

	t.Run("masks sensitive keys", func(t *testing.T) {
		in := []any{"path", "a.md", "refresh_token", "1//abcdefghijkl", "auth_error", errors.New("bad credentials here")}
		got := s.SanitizeArgs(in)

		if got[1] != "a.md" {
			t.Errorf("non-sensitive value changed: %v", got[1])
		}
		if got[3] != "1***l" {
			t.Errorf("token value = %v, want 1***l", got[3])
		}
		if got[5] != "b***e" {
			t.Errorf("error value = %v, want b***e", got[5])
		}
		if in[3] != "1//abcdefghijkl" {
			t.Error("input slice was modified")
		}
	})

	t.Run("non-string values pass through", func(t *testing.T) {
		got := s.SanitizeArgs([]any{"token_count", 42, "size", int64(1024)})
		if got[1] != 42 || got[3] != int64(1024) {
			t.Errorf("SanitizeArgs() = %v", got)
		}
	})

	t.Run("odd length", func(t *testing.T) {
		got := s.SanitizeArgs([]any{"password", "hunter2", "dangling"})
		if len(got) != 3 || got[2] != "dangling" || got[1] == "hunter2" {
			t.Errorf("SanitizeArgs() = %v", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := s.SanitizeArgs(nil); len(got) != 0 {
			t.Errorf("SanitizeArgs(nil) = %v", got)
		}
	})
}

func TestSanitizer_AddRule(t *testing.T) {
	s := NewSanitizer()

	if err := s.AddRule(`vault-[0-9a-f]{8}`, "vault-***"); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if got := s.Sanitize("listing vault-deadbeef"); got != "listing vault-***" {
		t.Errorf("Sanitize() = %q", got)
	}

	if err := s.AddRule(`(unclosed`, "x"); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestSanitizer_MaskValue(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		input    string
		expected string
	}{
		{"ab", "***"},
		{"abc", "a***"},
		{"abcdefgh", "a***"},
		{"abcdefghi", "a***i"},
		{"verylongpassword", "v***d"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := s.maskValue(tt.input); got != tt.expected {
				t.Errorf("maskValue(%s) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizer_IsSensitiveKey(t *testing.T) {
	s := NewSanitizer()

	tests := map[string]bool{
		"password":      true,
		"CLIENT_SECRET": true,
		"access_token":  true,
		"api_key":       true,
		"vault_id":      false,
		"authorization": true,
		"sync_id":       false,
		"path":          false,
	}

	for key, want := range tests {
		if got := s.isSensitiveKey(key); got != want {
			t.Errorf("isSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
