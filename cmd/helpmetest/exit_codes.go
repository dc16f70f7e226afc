package main

import (
	"errors"

	hmterrors "github.com/helpmetest/cli/pkg/errors"
)

const (
	exitFailure    = 1
	exitUsage      = 2
	exitAuth       = 3
	exitConfig     = 4
	exitTestFailed = 5
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch hmterrors.GetCode(err) {
	case hmterrors.ErrCodeInvalidInput:
		return exitUsage
	case hmterrors.ErrCodeAPIUnauthorized:
		return exitAuth
	case hmterrors.ErrCodeConfigLoad, hmterrors.ErrCodeConfigParse, hmterrors.ErrCodeConfigInvalid:
		return exitConfig
	}
	return exitFailure
}
