package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nao1215/sitemirror/internal/store"
)

// TestNewRootCmd tests the root command creation.
func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "sitemirror" {
			t.Errorf("expected use 'sitemirror', got %q", cmd.Use)
		}
	})

	t.Run("has descriptions", func(t *testing.T) {
		t.Parallel()
		if cmd.Short == "" || cmd.Long == "" {
			t.Error("expected non-empty short and long descriptions")
		}
	})

	t.Run("has version", func(t *testing.T) {
		t.Parallel()
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has persistent flags", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name      string
			shorthand string
			defValue  string
		}{
			{name: "verbose", shorthand: "v", defValue: "false"},
			{name: "site-config", shorthand: "c", defValue: ""},
			{name: "log-json", defValue: "false"},
		}
		for _, tt := range tests {
			flag := cmd.PersistentFlags().Lookup(tt.name)
			if flag == nil {
				t.Errorf("expected %s flag", tt.name)
				continue
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("%s: expected shorthand %q, got %q", tt.name, tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("%s: expected default %q, got %q", tt.name, tt.defValue, flag.DefValue)
			}
		}
		storeFlag := cmd.PersistentFlags().Lookup("store")
		if storeFlag == nil || storeFlag.DefValue == "" {
			t.Error("expected store flag with a default directory")
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		t.Parallel()
		want := []string{
			"init", "version", "crawl", "ls", "cat", "links", "link-source",
			"relink", "relink-matching", "rm", "mv", "dedup", "optimize",
			"copy-to", "snapshot", "export", "index",
		}
		names := make(map[string]bool)
		for _, sub := range cmd.Commands() {
			names[sub.Name()] = true
		}
		for _, name := range want {
			if !names[name] {
				t.Errorf("expected %s subcommand", name)
			}
		}
	})
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "plain error", err: errors.New("boom"), want: exitError},
		{name: "not found", err: fmt.Errorf("/a: %w", store.ErrNotFound), want: exitError},
		{
			name: "consistency failure",
			err:  fmt.Errorf("failed to crawl: %w", &store.ConsistencyError{Op: "update", Err: store.ErrLockTimeout}),
			want: exitFatal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParseSiteURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{arg: "example.com", want: "https://example.com"},
		{arg: " example.com/docs/ ", want: "https://example.com/docs/"},
		{arg: "http://127.0.0.1:8080/", want: "http://127.0.0.1:8080/"},
		{arg: "ftp://example.com/", wantErr: true},
		{arg: "https://", wantErr: true},
		{arg: "http://[::1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			t.Parallel()

			u, err := parseSiteURL(tt.arg)
			if tt.wantErr {
				if !errors.Is(err, errInvalidSiteURL) {
					t.Errorf("expected errInvalidSiteURL, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, u.String())
			}
		})
	}
}
