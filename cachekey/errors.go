package cachekey

import (
	"github.com/jmgilman/go/errors"
)

// IsInvalidInput reports whether err was caused by a missing or unreadable input
// file or by invalid key parameters.
func IsInvalidInput(err error) bool {
	return err != nil && errors.GetCode(err) == errors.CodeInvalidInput
}

func invalidInput(err error, path, message string) error {
	return errors.WithContext(
		errors.Wrap(err, errors.CodeInvalidInput, message),
		"path", path,
	)
}
