package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "company-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestExpiry(t *testing.T) {
	t.Run("reads exp without the secret", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		got, ok := Expiry(signed(t, exp))
		if !ok || !got.Equal(exp) {
			t.Errorf("Expected %v, got %v (ok=%v)", exp, got, ok)
		}
	})

	t.Run("opaque tokens have no expiry", func(t *testing.T) {
		if _, ok := Expiry("not-a-jwt"); ok {
			t.Error("Expected no expiry for an opaque token")
		}
		if Expired("not-a-jwt", time.Now()) {
			t.Error("Opaque token must not count as expired")
		}
	})

	t.Run("past exp is expired", func(t *testing.T) {
		if !Expired(signed(t, time.Now().Add(-time.Minute)), time.Now()) {
			t.Error("Expected token to be expired")
		}
	})
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	store := FileStore{Path: path}
	if got := store.Token(); got != "" {
		t.Errorf("Expected empty token for missing file, got %q", got)
	}
	if err := os.WriteFile(path, []byte("  abc  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := store.Token(); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	if err := os.WriteFile(path, []byte("rotated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := store.Token(); got != "rotated" {
		t.Errorf("Expected rotated token to be picked up, got %q", got)
	}
	if got := (FileStore{}).Token(); got != "" {
		t.Errorf("Expected empty token without a path, got %q", got)
	}
}
