package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onechat-server/internal/config"
	"github.com/vovakirdan/onechat-server/internal/store"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabaseURL = "sqlite:///:memory:"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

// stubTerminal replaces the terminal seams and reports how many times the
// password prompt ran.
func stubTerminal(t *testing.T, password string, terminal bool) *int {
	t.Helper()

	calls := 0
	origRead, origIsTerminal := readPassword, isTerminal
	readPassword = func(int) ([]byte, error) {
		calls++
		return []byte(password), nil
	}
	isTerminal = func(int) bool { return terminal }
	t.Cleanup(func() {
		readPassword, isTerminal = origRead, origIsTerminal
	})
	return &calls
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	logger := zerolog.New(nil)
	a, err := New(context.Background(), testConfig(), &logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.store.Close() })
	return a
}

func TestOpenStoreSQLiteURL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cases := []struct {
		name string
		url  string
		file string
	}{
		{"absolute url", "sqlite:///" + filepath.Join(dir, "url.db"), filepath.Join(dir, "url.db")},
		{"bare path", filepath.Join(dir, "bare.db"), filepath.Join(dir, "bare.db")},
		{"memory", "sqlite://", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := OpenStore(ctx, tc.url)
			if err != nil {
				t.Fatalf("OpenStore(%q): %v", tc.url, err)
			}
			defer st.Close()

			id, err := st.CreateUser(ctx, "alice", "hash", false)
			if err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			if id == 0 {
				t.Fatal("CreateUser returned zero id")
			}
			if tc.file != "" {
				if _, err := os.Stat(tc.file); err != nil {
					t.Fatalf("database file missing: %v", err)
				}
			}
		})
	}
}

func TestOpenStoreEmptyURL(t *testing.T) {
	if _, err := OpenStore(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty database url")
	}
}

func TestEnsureAdminFirstRun(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	calls := stubTerminal(t, "hunter2", true)

	if err := a.EnsureAdmin(ctx, "admin"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("password prompt ran %d times, want 1", *calls)
	}

	u, err := a.store.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if !u.IsAdmin {
		t.Fatal("created user is not an admin")
	}

	// second run finds the account and never prompts
	if err := a.EnsureAdmin(ctx, "admin"); err != nil {
		t.Fatalf("EnsureAdmin second run: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("password prompt ran %d times after second run, want 1", *calls)
	}
}

func TestEnsureAdminBlankUsernameSkips(t *testing.T) {
	a := newTestApp(t)
	calls := stubTerminal(t, "hunter2", true)

	if err := a.EnsureAdmin(context.Background(), "   "); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if *calls != 0 {
		t.Fatal("prompt must not run for a blank username")
	}
}

func TestEnsureAdminEmptyPassword(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	stubTerminal(t, "", true)

	if err := a.EnsureAdmin(ctx, "admin"); err == nil {
		t.Fatal("expected error for empty password")
	}
	if _, err := a.store.GetUserByUsername(ctx, "admin"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("no account should exist, got %v", err)
	}
}

func TestEnsureAdminWithoutTerminal(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	calls := stubTerminal(t, "hunter2", false)

	if err := a.EnsureAdmin(ctx, "admin"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if *calls != 0 {
		t.Fatal("prompt must not run without a terminal")
	}
	if _, err := a.store.GetUserByUsername(ctx, "admin"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("no account should exist, got %v", err)
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	logger := zerolog.New(nil)
	a, err := New(context.Background(), testConfig(), &logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// give the listener a moment to come up before stopping it
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
