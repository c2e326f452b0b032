// Package dtest has helpers shared by tests across the module.
package dtest

import (
	"testing"

	"github.com/pkg/errors"
)

// Must shows a complete error stack and fails a test immediately
// if err is non-nil
func Must(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("%+v", errors.WithStack(err))
	}
}
