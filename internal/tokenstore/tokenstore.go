// Package tokenstore persists the durable half of the OAuth2 credentials.
//
// Only the refresh token survives a restart. Access tokens are re-derived
// from it after every boot.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Token is the single persisted slot.
type Token struct {
	RefreshToken string    `json:"refresh_token"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store reads, overwrites and erases the token slot. Read returns nil when
// the slot is empty.
type Store interface {
	Read() (*Token, error)
	Write(tok Token) error
	Erase() error
}

// FileStore keeps the token as JSON in a file readable only by the owner.
type FileStore struct {
	Path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Read loads the token. A missing file or an empty refresh token is an
// empty slot, not an error.
func (s *FileStore) Read() (*Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", s.Path, err)
	}
	if tok.RefreshToken == "" {
		return nil, nil
	}
	return &tok, nil
}

// Write overwrites the slot.
func (s *FileStore) Write(tok Token) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write token: %w", err)
	}
	log.Printf("[tokenstore] Token saved to %s", s.Path)
	return nil
}

// Erase empties the slot.
func (s *FileStore) Erase() error {
	err := os.Remove(s.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("erase token: %w", err)
	}
	log.Printf("[tokenstore] Token erased")
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu  sync.Mutex
	tok *Token
}

// NewMemoryStore returns a store holding tok, or an empty one when tok is nil.
func NewMemoryStore(tok *Token) *MemoryStore {
	s := &MemoryStore{}
	if tok != nil {
		t := *tok
		s.tok = &t
	}
	return s
}

func (s *MemoryStore) Read() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil || s.tok.RefreshToken == "" {
		return nil, nil
	}
	t := *s.tok
	return &t, nil
}

func (s *MemoryStore) Write(tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = &tok
	return nil
}

func (s *MemoryStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	return nil
}
