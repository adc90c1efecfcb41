package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "token.json"))

	tok, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tok != nil {
		t.Errorf("expected empty slot, got %+v", tok)
	}
	if err := s.Erase(); err != nil {
		t.Errorf("Erase on empty slot: %v", err)
	}
}

func TestFileStoreWriteReadErase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "token.json")
	s := NewFileStore(path)
	saved := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := s.Write(Token{RefreshToken: "1//refresh", SavedAt: saved}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	tok, err := s.Read()
	if err != nil || tok == nil {
		t.Fatalf("Read = %v, %v", tok, err)
	}
	if tok.RefreshToken != "1//refresh" || !tok.SavedAt.Equal(saved) {
		t.Errorf("unexpected token %+v", tok)
	}

	if err := s.Erase(); err != nil {
		t.Fatal(err)
	}
	if tok, _ := s.Read(); tok != nil {
		t.Errorf("expected empty slot after erase, got %+v", tok)
	}
}

func TestFileStoreBlankRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte(`{"refresh_token":""}`), 0600); err != nil {
		t.Fatal(err)
	}
	tok, err := NewFileStore(path).Read()
	if err != nil || tok != nil {
		t.Errorf("Read = %v, %v; want empty slot", tok, err)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Read(); err == nil {
		t.Error("expected decode error")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(&Token{RefreshToken: "r"})
	tok, _ := s.Read()
	if tok == nil || tok.RefreshToken != "r" {
		t.Fatalf("unexpected %+v", tok)
	}

	tok.RefreshToken = "mutated"
	if again, _ := s.Read(); again.RefreshToken != "r" {
		t.Error("Read must return a copy")
	}

	_ = s.Erase()
	if tok, _ := s.Read(); tok != nil {
		t.Errorf("expected empty slot, got %+v", tok)
	}
}
