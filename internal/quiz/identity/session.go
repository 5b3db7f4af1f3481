package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Session is the on-disk form of a signed-in user.
type Session struct {
	UID   string `toml:"uid"`
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

// FileProvider reads the signed-in user from a TOML session file:
//
//	uid = "u1"
//	name = "Ana"
//	email = "ana@example.com"
//
// The file is re-read on every call so a login or logout from another
// process is picked up.
type FileProvider struct {
	path string
	mu   sync.Mutex
}

// NewFileProvider returns a provider backed by the session file at path.
// The file need not exist yet.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Path returns the session file location.
func (p *FileProvider) Path() string {
	return p.path
}

// Load returns the current session, or nil when signed out.
func (p *FileProvider) Load() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Session
	if _, err := toml.DecodeFile(p.path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if strings.TrimSpace(s.UID) == "" {
		return nil, nil
	}
	return &s, nil
}

// Login writes s as the current session.
func (p *FileProvider) Login(s Session) error {
	if strings.TrimSpace(s.UID) == "" {
		return fmt.Errorf("uid is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := p.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Logout removes the session file. Logging out twice is not an error.
func (p *FileProvider) Logout() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// An unreadable session file counts as signed out.
func (p *FileProvider) session() *Session {
	s, err := p.Load()
	if err != nil {
		return nil
	}
	return s
}

// CurrentUserID returns the uid in the session file. A missing or unreadable
// file means signed out.
func (p *FileProvider) CurrentUserID() (string, bool) {
	s := p.session()
	if s == nil {
		return "", false
	}
	return s.UID, true
}

// CurrentDisplayName returns the session's name, if one was given at login.
func (p *FileProvider) CurrentDisplayName() (string, bool) {
	s := p.session()
	if s == nil || s.Name == "" {
		return "", false
	}
	return s.Name, true
}

// CurrentEmail returns the session's email, if one was given at login.
func (p *FileProvider) CurrentEmail() (string, bool) {
	s := p.session()
	if s == nil || s.Email == "" {
		return "", false
	}
	return s.Email, true
}
