// Package auth persists the browser credentials used to reach the host
// application and reports whether they still look usable.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

// CookieValidity is the conservative lifetime assumed for a fresh login.
const CookieValidity = 14 * 24 * time.Hour

// RequiredCookies must all be present for stored credentials to be valid.
var RequiredCookies = []string{"SID", "HSID", "SSID"}

// EssentialCookies is the full set a completed login produces.
var EssentialCookies = []string{"SID", "HSID", "SSID", "APISID", "SAPISID"}

// Cookie is a browser cookie as stored in auth.json.
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path"`
	Expires  *float64 `json:"expires,omitempty"`
	HTTPOnly bool     `json:"http_only"`
	Secure   bool     `json:"secure"`
	SameSite string   `json:"same_site"`
}

// State is the persisted authentication state.
type State struct {
	Cookies         []Cookie   `json:"cookies"`
	CSRFToken       string     `json:"csrf_token,omitempty"`
	AuthenticatedAt *time.Time `json:"authenticated_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the state has the required cookies and has not
// passed its estimated expiry.
func (s *State) Valid(now time.Time) bool {
	if s == nil || len(s.Cookies) == 0 {
		return false
	}
	if !hasAll(s.Cookies, RequiredCookies) {
		return false
	}
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return false
	}
	return true
}

func hasAll(cookies []Cookie, names []string) bool {
	present := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		present[c.Name] = true
	}
	for _, n := range names {
		if !present[n] {
			return false
		}
	}
	return true
}

// FileStore keeps the authentication state in a JSON file, by default
// ~/.notebooklm/auth.json. It is safe for concurrent use.
type FileStore struct {
	path   string
	state  *State
	mu     sync.RWMutex
	now    func() time.Time
	logger *logging.Logger
}

// DefaultPath returns ~/.notebooklm/auth.json.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".notebooklm", "auth.json"), nil
}

// NewFileStore opens the store at path (DefaultPath when empty) and loads any
// existing state. A missing or unreadable file leaves the store empty.
func NewFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := &FileStore{path: path, now: time.Now, logger: logger}
	if err := s.Load(); err != nil {
		// A corrupt file is treated as "not logged in".
		logger.Warnf("Failed to load auth state from %s: %v", path, err)
	}
	return s, nil
}

// Load reads the state from disk, replacing what is in memory.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.state = nil
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read auth file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.state = nil
		return fmt.Errorf("failed to decode auth file: %w", err)
	}
	s.state = &state
	s.logger.Debugf("Loaded auth state from %s (valid: %t)", s.path, state.Valid(s.now()))
	return nil
}

// Save stores cookies from a completed login together with the CSRF token.
// Only google.com cookies are kept. The state expires after CookieValidity.
func (s *FileStore) Save(cookies []Cookie, csrfToken string) error {
	kept := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !strings.HasSuffix(c.Domain, "google.com") {
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		if c.SameSite == "" {
			c.SameSite = "Lax"
		}
		kept = append(kept, c)
	}

	now := s.now()
	expires := now.Add(CookieValidity)
	state := &State{
		Cookies:         kept,
		CSRFToken:       csrfToken,
		AuthenticatedAt: &now,
		ExpiresAt:       &expires,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(state); err != nil {
		return err
	}
	s.state = state
	s.logger.Infof("Stored %d cookies, expires at %s", len(kept), expires.Format(time.RFC3339))
	return nil
}

// write persists state atomically. Callers hold s.mu.
func (s *FileStore) write(state *State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create auth directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp auth file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode auth state: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// IsValid reports whether the stored credentials look usable.
func (s *FileStore) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Valid(s.now())
}

// HasEssentialCookies reports whether the full login cookie set is stored.
func (s *FileStore) HasEssentialCookies() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != nil && hasAll(s.state.Cookies, EssentialCookies)
}

// Cookies returns a copy of the stored cookies, or an AuthExpired error when
// the credentials are not valid.
func (s *FileStore) Cookies() ([]Cookie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Valid(s.now()) {
		return nil, rpc.AuthExpired("not authenticated; log in first")
	}
	return append([]Cookie(nil), s.state.Cookies...), nil
}

// CSRFToken returns the token captured at login, if any.
func (s *FileStore) CSRFToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return ""
	}
	return s.state.CSRFToken
}

// ExpiresAt returns the estimated expiry, zero if unknown.
func (s *FileStore) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil || s.state.ExpiresAt == nil {
		return time.Time{}
	}
	return *s.state.ExpiresAt
}

// Refresh reloads the state from disk, picking up a login performed by
// another process. It fails with AuthExpired if the result is still invalid.
func (s *FileStore) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Load(); err != nil {
		return rpc.AuthExpired(fmt.Sprintf("reloading credentials: %v", err))
	}
	if !s.IsValid() {
		return rpc.AuthExpired("stored credentials are missing or expired; log in again")
	}
	s.logger.Infof("Credentials refreshed from %s", s.path)
	return nil
}

// Logout forgets the state and removes the file.
func (s *FileStore) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove auth file: %w", err)
	}
	s.logger.Infof("Removed auth file: %s", s.path)
	return nil
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}

// PlaywrightCookies converts stored cookies for injection into a browser
// context.
func PlaywrightCookies(cookies []Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		domain, path := c.Domain, c.Path
		if path == "" {
			path = "/"
		}
		httpOnly, secure := c.HTTPOnly, c.Secure
		pc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   &domain,
			Path:     &path,
			HttpOnly: &httpOnly,
			Secure:   &secure,
		}
		if c.Expires != nil {
			expires := *c.Expires
			pc.Expires = &expires
		}
		if c.SameSite != "" {
			sameSite := playwright.SameSiteAttribute(c.SameSite)
			pc.SameSite = &sameSite
		}
		out = append(out, pc)
	}
	return out
}
