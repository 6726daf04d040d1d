// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package contract

import (
	"github.com/samber/oops"
)

// Error codes for contract registry failures.
const (
	CodeDuplicateVersion = "CONTRACT_DUPLICATE_VERSION"
	CodeNotFound         = "CONTRACT_NOT_FOUND"
	CodeInvalid          = "CONTRACT_INVALID"
	CodeInvalidRange     = "CONTRACT_INVALID_RANGE"
)

// ErrDuplicateVersion creates an error for registering a (name, version)
// pair already held by a different provider.
func ErrDuplicateVersion(name, version, existingProvider string) error {
	return oops.Code(CodeDuplicateVersion).
		With("name", name).
		With("version", version).
		With("existing_provider", existingProvider).
		Errorf("contract %s@%s is already registered by %s", name, version, existingProvider)
}

// ErrNotFound creates an error for lookups and withdrawals that match
// nothing.
func ErrNotFound(name string) error {
	return oops.Code(CodeNotFound).
		With("name", name).
		Errorf("no contract registered under %s", name)
}

// ErrInvalid creates an error for a contract that fails validation.
func ErrInvalid(field, value, reason string) error {
	return oops.Code(CodeInvalid).
		With("field", field).
		With("value", value).
		Errorf("contract %s %s", field, reason)
}

// ErrInvalidRange creates an error for an unparseable version range.
func ErrInvalidRange(rangeExpr string, cause error) error {
	return oops.Code(CodeInvalidRange).
		With("range", rangeExpr).
		Wrap(cause)
}
