package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// ErrInvalidToken is returned when the backend rejects a token. The
// caller should clear the stored token and direct the user to log in
// again.
var ErrInvalidToken = errors.New("auth token rejected")

// User is the authenticated identity reported by the backend.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Verifier checks tokens against the backend's auth endpoint.
type Verifier struct {
	backendURL string
	client     *http.Client
}

// NewVerifier creates a verifier for the backend at backendURL, for
// example http://localhost:8000.
func NewVerifier(backendURL string) *Verifier {
	return &Verifier{
		backendURL: strings.TrimRight(backendURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify asks the backend whether token is valid and returns the user
// it belongs to. A definite rejection is ErrInvalidToken; transport
// problems come back as ordinary errors so the caller can distinguish
// "logged out" from "backend unreachable".
func (v *Verifier) Verify(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrInvalidToken
	}

	endpoint := v.backendURL + "/auth/verify?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, fmt.Errorf("build verify request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return User{}, ErrInvalidToken
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return User{}, fmt.Errorf("read verify response: %w", err)
	}

	var user User
	if err := sonic.Unmarshal(body, &user); err != nil {
		return User{}, fmt.Errorf("parse verify response: %w", err)
	}
	return user, nil
}

// LoginURL is where the user completes the Google OAuth flow in a
// browser; the backend redirects back with a token.
func (v *Verifier) LoginURL() string {
	return v.backendURL + "/auth/google/login"
}

// TokenStore persists the auth token between runs in a plain file.
type TokenStore struct {
	path string
}

// NewTokenStore creates a store at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Load returns the stored token, or empty when none exists.
func (s *TokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the token, creating parent directories as needed. The
// file is readable by the owner only.
func (s *TokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Clear removes the stored token. Missing file is not an error.
func (s *TokenStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
