/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Expected, recoverable failures surfaced synchronously to the caller.
// None of these ever crash a session.
var (
	errStoryNotFound     = errors.New("story not found")
	errSessionNotFound   = errors.New("session not found")
	errPlayerNotFound    = errors.New("player not found in session")
	errCharacterNotFound = errors.New("character not found in story")
	errSessionFull       = errors.New("session is full")
	errSessionStarted    = errors.New("session has already started")
	errCharacterTaken    = errors.New("character is already taken")
	errNotHost           = errors.New("only the host may do that")
	errWrongPhase        = errors.New("action is not valid in the current phase")
	errInvalidPhase      = errors.New("phase cannot be advanced from here")
	errEmptyMessage      = errors.New("message is empty")
	errMessageTooLong    = errors.New("message is too long")
	errInvalidName       = errors.New("name must be between 1 and 20 characters")
	errNoCharacter       = errors.New("no character selected")
)

// NotReadyError reports why the game cannot start yet, naming the
// players still missing a character so clients can explain it.
type NotReadyError struct {
	Missing []string
	Have    int
	Need    int
}

func (e *NotReadyError) Error() string {
	if e.Have < e.Need {
		return fmt.Sprintf("need at least %d players to start (have %d)", e.Need, e.Have)
	}
	return fmt.Sprintf("players without a character: %s", strings.Join(e.Missing, ", "))
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}
