// Package apperr defines the error kinds every fatal fedpost error is classified under.
package apperr

import "errors"

var (
	ErrConfig       = errors.New("configuration error")
	ErrPrecondition = errors.New("precondition failed")
	ErrValidation   = errors.New("validation error")
	ErrNetwork      = errors.New("network error")
	ErrVCS          = errors.New("version control error")
)
