package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/notebooklm/pkg/rpc"
)

func loginCookies() []Cookie {
	var cookies []Cookie
	for _, name := range EssentialCookies {
		cookies = append(cookies, Cookie{Name: name, Value: name + "-value", Domain: ".google.com"})
	}
	return cookies
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "auth.json"), nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return store
}

func TestNewFileStore(t *testing.T) {
	t.Run("missing file is not logged in", func(t *testing.T) {
		store := newTestStore(t)
		if store.IsValid() {
			t.Error("Empty store should not be valid")
		}
		if _, err := store.Cookies(); !errors.Is(err, rpc.ErrAuthExpired) {
			t.Errorf("Expected AuthExpired, got %v", err)
		}
	})

	t.Run("default path when empty", func(t *testing.T) {
		store, err := NewFileStore("", nil)
		if err != nil {
			t.Fatalf("NewFileStore with empty path failed: %v", err)
		}
		homeDir, _ := os.UserHomeDir()
		expected := filepath.Join(homeDir, ".notebooklm", "auth.json")
		if store.Path() != expected {
			t.Errorf("Expected default path %s, got %s", expected, store.Path())
		}
	})

	t.Run("corrupt file treated as logged out", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "auth.json")
		if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		store, err := NewFileStore(path, nil)
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}
		if store.IsValid() {
			t.Error("Corrupt store should not be valid")
		}
	})
}

func TestSaveAndReload(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	cookies := append(loginCookies(), Cookie{Name: "OTHER", Value: "x", Domain: ".example.com"})
	if err := store.Save(cookies, "csrf-123"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !store.IsValid() {
		t.Fatal("Store should be valid after save")
	}
	if !store.HasEssentialCookies() {
		t.Error("Expected essential cookies")
	}
	if got := store.ExpiresAt(); !got.Equal(now.Add(CookieValidity)) {
		t.Errorf("Expected expiry %v, got %v", now.Add(CookieValidity), got)
	}

	reopened, err := NewFileStore(store.Path(), nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	reopened.now = store.now

	got, err := reopened.Cookies()
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	if len(got) != len(EssentialCookies) {
		t.Errorf("Expected %d google.com cookies, got %d", len(EssentialCookies), len(got))
	}
	for _, c := range got {
		if c.Path != "/" || c.SameSite != "Lax" {
			t.Errorf("Expected defaults on %s, got path=%q same_site=%q", c.Name, c.Path, c.SameSite)
		}
	}
	if reopened.CSRFToken() != "csrf-123" {
		t.Errorf("Expected csrf token, got %q", reopened.CSRFToken())
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not remain after save")
	}
}

func TestValidity(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		state *State
		want  bool
	}{
		{"nil state", nil, false},
		{"no cookies", &State{}, false},
		{"missing SSID", &State{Cookies: []Cookie{{Name: "SID"}, {Name: "HSID"}}}, false},
		{"required only", &State{Cookies: []Cookie{{Name: "SID"}, {Name: "HSID"}, {Name: "SSID"}}}, true},
		{"expired", &State{Cookies: loginCookies(), ExpiresAt: &past}, false},
		{"not yet expired", &State{Cookies: loginCookies(), ExpiresAt: &future}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	t.Run("still invalid", func(t *testing.T) {
		store := newTestStore(t)
		err := store.Refresh(context.Background())
		if !errors.Is(err, rpc.ErrAuthExpired) {
			t.Errorf("Expected AuthExpired, got %v", err)
		}
	})

	t.Run("picks up login from another process", func(t *testing.T) {
		store := newTestStore(t)
		other, err := NewFileStore(store.Path(), nil)
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}
		if err := other.Save(loginCookies(), ""); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if store.IsValid() {
			t.Fatal("Store should not see the login before refresh")
		}
		if err := store.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if !store.IsValid() {
			t.Error("Store should be valid after refresh")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := newTestStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := store.Refresh(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

func TestLogout(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(loginCookies(), ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Logout(); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if store.IsValid() {
		t.Error("Store should not be valid after logout")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("Auth file should be removed")
	}
	if err := store.Logout(); err != nil {
		t.Errorf("Second logout failed: %v", err)
	}
}

func TestPlaywrightCookies(t *testing.T) {
	expires := 1.7e9
	in := []Cookie{
		{Name: "SID", Value: "v", Domain: ".google.com", Expires: &expires, HTTPOnly: true, Secure: true, SameSite: "None"},
		{Name: "NID", Value: "w", Domain: ".google.com"},
	}
	out := PlaywrightCookies(in)
	if len(out) != 2 {
		t.Fatalf("Expected 2 cookies, got %d", len(out))
	}

	sid := out[0]
	if sid.Name != "SID" || *sid.Domain != ".google.com" || *sid.Path != "/" {
		t.Errorf("Unexpected cookie: %+v", sid)
	}
	if sid.Expires == nil || *sid.Expires != expires {
		t.Error("Expected expires to be carried over")
	}
	if !*sid.HttpOnly || !*sid.Secure || sid.SameSite == nil || string(*sid.SameSite) != "None" {
		t.Errorf("Unexpected flags: %+v", sid)
	}
	if out[1].Expires != nil || out[1].SameSite != nil {
		t.Errorf("Expected optional fields unset: %+v", out[1])
	}
}
