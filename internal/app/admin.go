package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/vovakirdan/onechat-server/internal/auth"
	"github.com/vovakirdan/onechat-server/internal/config"
	"github.com/vovakirdan/onechat-server/internal/store"
)

// Test seams for terminal interaction.
// In tests these are replaced with stubs to avoid touching the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// EnsureAdmin provisions the configured admin account on first run,
// prompting for its password on the terminal. A missing terminal is not
// fatal: the account can still be created with the create-admin command.
func (a *App) EnsureAdmin(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}

	_, err := a.store.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}

	if !isTerminal(int(os.Stdin.Fd())) {
		a.log.Warn().Str("username", username).
			Msg("admin account missing and stdin is not a terminal; run create-admin to provision it")
		return nil
	}

	fmt.Printf("First run: creating admin %q\n", username)
	password, err := promptPassword(fmt.Sprintf("Set password for %q: ", username))
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("empty password")
	}

	if _, err := a.auth.CreateUser(ctx, username, password, true); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	a.log.Info().Str("username", username).Msg("admin created")
	return nil
}

// CreateAdmin opens the store and interactively provisions one admin account.
// It backs the create-admin command.
func CreateAdmin(ctx context.Context, cfg config.Config, logger *zerolog.Logger, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}

	st, err := OpenStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}()

	if _, err := st.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user %q already exists", username)
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return fmt.Errorf("look up user: %w", err)
	}

	password, err := promptPassword(fmt.Sprintf("Set password for %q: ", username))
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("empty password")
	}

	if _, err := auth.NewService(st).CreateUser(ctx, username, password, true); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info().Str("username", username).Msg("admin created")
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}
