// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"unicode"

	"github.com/samber/oops"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// ValidatePassword enforces the password strength policy: at least
// MinPasswordLength characters with upper case, lower case, a digit, and a
// symbol.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_WEAK_PASSWORD").Errorf("password cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	if !upper || !lower {
		return oops.Code("AUTH_WEAK_PASSWORD").Errorf("password must contain upper and lower case letters")
	}
	if !digit {
		return oops.Code("AUTH_WEAK_PASSWORD").Errorf("password must contain at least one number")
	}
	if !symbol {
		return oops.Code("AUTH_WEAK_PASSWORD").Errorf("password must contain at least one symbol")
	}
	return nil
}
