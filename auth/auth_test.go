package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyValidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/verify" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("token"); got != "tok+123" {
			t.Errorf("token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"a@b.c","name":"Alex"}`))
	}))
	defer srv.Close()

	v := NewVerifier(srv.URL)
	user, err := v.Verify(context.Background(), "tok+123")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user.Email != "a@b.c" || user.Name != "Alex" {
		t.Errorf("user = %+v", user)
	}
}

func TestVerifyRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewVerifier(srv.URL)
	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	v := NewVerifier("http://localhost:1")
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyUnreachableBackendIsNotInvalidToken(t *testing.T) {
	v := NewVerifier("http://127.0.0.1:1")
	_, err := v.Verify(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrInvalidToken) {
		t.Error("transport failure must not look like a rejected token")
	}
}

func TestLoginURL(t *testing.T) {
	v := NewVerifier("http://localhost:8000/")
	if got := v.LoginURL(); got != "http://localhost:8000/auth/google/login" {
		t.Errorf("LoginURL = %q", got)
	}
}

func TestTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	s := NewTokenStore(path)

	if tok, err := s.Load(); err != nil || tok != "" {
		t.Fatalf("Load on missing file = %q, %v", tok, err)
	}

	if err := s.Save("secret-token"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}

	tok, err := s.Load()
	if err != nil || tok != "secret-token" {
		t.Fatalf("Load = %q, %v", tok, err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if tok, _ := s.Load(); tok != "" {
		t.Errorf("token survived Clear: %q", tok)
	}
}
