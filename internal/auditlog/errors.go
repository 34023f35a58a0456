// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import "github.com/holomush/warden/pkg/errutil"

// Error codes returned by this package.
const (
	CodeValidation    = "AUDIT_VALIDATION_FAILED"
	CodeAppendFailed  = "AUDIT_APPEND_FAILED"
	CodeChainBroken   = "AUDIT_CHAIN_BROKEN"
	CodeInvalidCursor = "AUDIT_INVALID_CURSOR"
	CodeListFailed    = "AUDIT_LIST_FAILED"
)

// IsValidation reports whether err rejected a malformed input.
func IsValidation(err error) bool {
	return errutil.HasCode(err, CodeValidation)
}

// IsChainIntegrity reports whether err reports a broken hash chain.
func IsChainIntegrity(err error) bool {
	return errutil.HasCode(err, CodeChainBroken)
}

// IsInvalidCursor reports whether err rejected a pagination cursor.
func IsInvalidCursor(err error) bool {
	return errutil.HasCode(err, CodeInvalidCursor)
}
