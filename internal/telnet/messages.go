// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"fmt"
	"math"

	"github.com/holomush/authgate/internal/gate"
)

// User-facing text.
const (
	msgWelcome           = "Welcome to AuthGate!"
	msgNamePrompt        = "Enter your name:"
	msgNotAuthenticated  = "You are not logged in. Use /login <password>, or /register <password> if you are new."
	msgLoginUsage        = "Usage: /login <password>"
	msgRegisterUsage     = "Usage: /register <password>"
	msgLoggedIn          = "Logged in."
	msgRegistered        = "Registered and logged in."
	msgNotRegistered     = "You are not registered yet. Use /register <password>."
	msgWrongPassword     = "Wrong password."
	msgAccountLocked     = "Too many failed logins. Try again later."
	msgLoginFailed       = "Login failed. Please try again."
	msgAlreadyRegistered = "You are already registered. Use /login <password>."
	msgRegisterFailed    = "Registration failed. Please try again."
	msgAlreadyLoggedIn   = "You are already logged in."
	msgNotLoggedIn       = "You are not logged in."
	msgLoggedOut         = "Logged out."
	msgResumed           = "Welcome back! Your session was resumed."
	msgTrusted           = "Welcome! Authentication is not required for you."
	msgRescued           = "You were pulled out of a portal."
	msgSafeguarded       = "You are protected until you log in."
	msgTakenOver         = "You logged in from another location."
	msgShutdown          = "Server shutting down."
	msgGoodbye           = "Goodbye!"
	msgMoveWhere         = "Move where? Try north, south, east, west, up or down."
	msgNotConnected      = "Connection refused."
)

func msgUnknownCommand(cmd string) string {
	return "Unknown command: " + cmd
}

func msgDid(verb, arg string) string {
	if arg == "" {
		return fmt.Sprintf("You %s.", verb)
	}
	return fmt.Sprintf("You %s %s.", verb, arg)
}

func msgSays(name, message string) string {
	return fmt.Sprintf("<%s> %s", name, message)
}

func msgPosition(pos gate.Position) string {
	return fmt.Sprintf("You are at %.1f %.1f %.1f standing in %s.", pos.X, pos.Y, pos.Z, pos.Material)
}

func msgBlockChange(pos gate.Position, material string) string {
	return fmt.Sprintf("[block] %d %d %d is %s", int64(math.Floor(pos.X)), int64(math.Floor(pos.Y)), int64(math.Floor(pos.Z)), material)
}

func notice(n gate.Notice) string {
	switch n {
	case gate.NoticeNotAuthenticated:
		return msgNotAuthenticated
	default:
		return ""
	}
}
