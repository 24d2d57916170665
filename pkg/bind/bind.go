// Package bind classifies socket bind failures.
package bind

import (
	"errors"
	"fmt"
)

// ErrAddressInUse is wrapped by errors caused by a bind conflict.
var ErrAddressInUse = errors.New("address already in use")

// Classify wraps err with ErrAddressInUse when the OS reported a bind
// conflict. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrAddressInUse) {
		return err
	}
	if isAddrInUse(err) {
		return fmt.Errorf("%w: %w", ErrAddressInUse, err)
	}
	return err
}
