// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package authz

import "fmt"

// Denial reason codes carried on ForbiddenError. Machine-readable so
// clients can decide whether to prompt, back off, or stop retrying.
const (
	ReasonRoleDenied       = "role_denied"
	ReasonBatchTooLarge    = "batch_too_large"
	ReasonEmptyBatch       = "empty_batch"
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonCommandQuota     = "command_quota_exceeded"
	ReasonInsecureChannel  = "insecure_channel"
	ReasonMisconfiguration = "misconfiguration"
)

// ForbiddenError is a structured authorization denial. It names the
// resource, role, and method for observability and carries the configured
// limit where one applies, but never internal policy details beyond that.
type ForbiddenError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	Service string `json:"service,omitempty"`
	Role    string `json:"role,omitempty"`
	Method  string `json:"method,omitempty"`
	Command string `json:"command,omitempty"`

	// Limit is the configured numeric limit for quota and batch denials.
	Limit int `json:"limit,omitempty"`
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("forbidden (%s): role %q, command %q on service %q: %s",
			e.Code, e.Role, e.Command, e.Service, e.Message)
	}
	return fmt.Sprintf("forbidden (%s): role %q, method %s on service %q: %s",
		e.Code, e.Role, e.Method, e.Service, e.Message)
}
