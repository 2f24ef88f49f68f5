// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/account"
	"github.com/holomush/authgate/internal/gate"
)

// AccountService defines the credential operations behind /login and
// /register.
type AccountService interface {
	// Login checks password against the identity's account.
	Login(id gate.Identity, password string) error
	// Register sets the password of an unregistered account.
	Register(id gate.Identity, password string) error
}

// AuthHandler turns credential commands into results for the connection.
// It only verifies credentials; marking the identity authenticated is the
// caller's job.
type AuthHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. A nil logger discards output.
// Returns an error if accounts is nil.
func NewAuthHandler(accounts AccountService, logger *slog.Logger) (*AuthHandler, error) {
	if accounts == nil {
		return nil, oops.Errorf("account service is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuthHandler{accounts: accounts, logger: logger}, nil
}

// CredentialResult contains the outcome of a /login or /register.
type CredentialResult struct {
	Success bool
	Message string
}

// HandleLogin processes /login <password>.
func (h *AuthHandler) HandleLogin(id gate.Identity, password string) CredentialResult {
	if password == "" {
		return CredentialResult{Message: msgLoginUsage}
	}
	if err := h.accounts.Login(id, password); err != nil {
		h.logger.Warn("login rejected",
			"event", "login_failed",
			"identity", id.String(),
			"error", err.Error(),
		)
		return h.loginError(err)
	}
	return CredentialResult{Success: true, Message: msgLoggedIn}
}

func (h *AuthHandler) loginError(err error) CredentialResult {
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case "ACCOUNT_NOT_REGISTERED":
			return CredentialResult{Message: msgNotRegistered}
		case "ACCOUNT_BAD_PASSWORD":
			return CredentialResult{Message: msgWrongPassword}
		case "ACCOUNT_LOCKED":
			return CredentialResult{Message: msgAccountLocked}
		}
	}
	return CredentialResult{Message: msgLoginFailed}
}

// HandleRegister processes /register <password>.
func (h *AuthHandler) HandleRegister(id gate.Identity, password string) CredentialResult {
	if err := h.accounts.Register(id, password); err != nil {
		h.logger.Warn("registration rejected",
			"event", "register_failed",
			"identity", id.String(),
			"error", err.Error(),
		)
		return h.registerError(err)
	}
	return CredentialResult{Success: true, Message: msgRegistered}
}

func (h *AuthHandler) registerError(err error) CredentialResult {
	if errors.Is(err, account.ErrEmptyPassword) {
		return CredentialResult{Message: msgRegisterUsage}
	}
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == "ACCOUNT_ALREADY_REGISTERED" {
		return CredentialResult{Message: msgAlreadyRegistered}
	}
	return CredentialResult{Message: msgRegisterFailed}
}
