// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when a create or update would violate the
// unique-email constraint. Repositories map the database unique violation to
// this error so callers never race a check-then-write.
var ErrEmailTaken = errors.New("email already in use")
