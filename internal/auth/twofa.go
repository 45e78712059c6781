// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package auth

import (
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
)

// generateTwoFACode produces a 6-digit one-time code. The code is derived
// from a throwaway random secret; only the code itself is persisted and
// compared, so no shared secret ever leaves the process.
func generateTwoFACode(now time.Time) (string, error) {
	seed := uuid.New()
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(seed[:])
	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		return "", fmt.Errorf("generate 2fa code: %w", err)
	}
	return code, nil
}

// twoFACodeValid compares a submitted code against the stored one inside
// its validity window. Constant-time comparison; a wrong code is treated
// exactly like wrong credentials by the caller.
func twoFACodeValid(stored, submitted string, sentAt, now time.Time, ttl time.Duration) bool {
	if stored == "" || submitted == "" {
		return false
	}
	if now.Sub(sentAt) > ttl {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
