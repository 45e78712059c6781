// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package auth

import "fmt"

// Error codes carried on AuthError. All map to an Unauthorized outcome at
// the transport boundary; none leak whether an identifier exists.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeTimedOut           = "timed_out"
	CodeTooManyAttempts    = "too_many_attempts"
	CodeTwoFARequired      = "two_fa_required"
	CodeTokenMismatch      = "token_mismatch"
	CodeUnauthorized       = "unauthorized"
)

// AuthError is a structured authentication rejection.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// RetryAfterSec tells the client how long to back off for
	// too-many-attempts and timed-out rejections.
	RetryAfterSec int `json:"retry_after_sec,omitempty"`
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.RetryAfterSec > 0 {
		return fmt.Sprintf("%s: %s (retry after %ds)", e.Code, e.Message, e.RetryAfterSec)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errInvalidCredentials is the uniform rejection for unknown identifiers,
// wrong passwords, and wrong 2FA codes.
func errInvalidCredentials() *AuthError {
	return &AuthError{Code: CodeInvalidCredentials, Message: "invalid credentials"}
}

func errTimedOut(retryAfterSec int) *AuthError {
	return &AuthError{
		Code:          CodeTimedOut,
		Message:       "account is temporarily timed out",
		RetryAfterSec: retryAfterSec,
	}
}

func errTooManyAttempts(retryAfterSec int) *AuthError {
	return &AuthError{
		Code:          CodeTooManyAttempts,
		Message:       "too many failed attempts",
		RetryAfterSec: retryAfterSec,
	}
}

func errTwoFARequired() *AuthError {
	return &AuthError{Code: CodeTwoFARequired, Message: "two-factor code required"}
}

func errTokenMismatch() *AuthError {
	return &AuthError{Code: CodeTokenMismatch, Message: "token has been revoked"}
}

func errUnauthorized(msg string) *AuthError {
	return &AuthError{Code: CodeUnauthorized, Message: msg}
}

// CodeOf extracts the auth error code, empty for foreign errors.
func CodeOf(err error) string {
	if ae, ok := err.(*AuthError); ok {
		return ae.Code
	}
	return ""
}
