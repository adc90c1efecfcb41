package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/tokenstore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDecideCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "time left",
			args: []string{"--start", "2024-05-01T10:00:00Z", "--eta", "30m", "--now", "2024-05-01T09:00:00Z"},
			want: []string{"time-left (30m0s)", "by leaving in 30 minutes."},
		},
		{
			name: "late",
			args: []string{"--start", "2024-05-01T10:00:00+02:00", "--eta", "1h", "--now", "2024-05-01T07:20:00Z"},
			want: []string{"late (20m0s)", "late for your upcoming event by 20 minutes."},
		},
		{
			name: "within epsilon",
			args: []string{"--start", "2024-05-01T10:00:00Z", "--eta", "59m", "--now", "2024-05-01T09:00:00Z", "--epsilon", "2m"},
			want: []string{"leave-now"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decideEpsilon = 0
			out, err := execute(t, append([]string{"decide"}, tt.args...)...)
			if err != nil {
				t.Fatalf("decide error = %v\n%s", err, out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestDecideRejectsBadStart(t *testing.T) {
	if _, err := execute(t, "decide", "--start", "tomorrow", "--eta", "10m", "--now", "2024-05-01T09:00:00Z"); err == nil {
		t.Fatal("expected error for non-RFC3339 start")
	}
}

func TestAuthStatusAndReset(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials")
	cfgFile := filepath.Join(dir, "config.yaml")
	content := "paths:\n  credentials: " + creds + "\n  runtime: " + filepath.Join(dir, "runtime") + "\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { configPath = "" })

	out, err := execute(t, "auth", "status", "--config", cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Not authorized") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	store := tokenstore.NewFileStore(filepath.Join(creds, "token.json"))
	if err := store.Write(tokenstore.Token{RefreshToken: "1//r", SavedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "auth", "status", "--config", cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Authorized.") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	if _, err := execute(t, "auth", "reset", "--config", cfgFile); err != nil {
		t.Fatal(err)
	}
	if tok, _ := store.Read(); tok != nil {
		t.Errorf("token still stored after reset: %+v", tok)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "smart-calendar version "+Version) {
		t.Errorf("unexpected version output:\n%s", out)
	}
}
