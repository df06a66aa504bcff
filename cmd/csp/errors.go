package main

import (
	"errors"
	"flag"
	"fmt"

	orchestrators "github.com/beobal/csp/internal/domain-orchestrators"
	"github.com/beobal/csp/internal/domain/entities"
)

// Exit codes
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitVerify  = 3
)

// usageError marks bad flags, arguments or configuration
type usageError struct {
	err      error
	reported bool // already printed by the flag package
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var uerr *usageError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, orchestrators.ErrVerificationFailed):
		return exitVerify
	case errors.As(err, &uerr), errors.Is(err, entities.ErrInvalidTag):
		return exitUsage
	default:
		return exitRuntime
	}
}
