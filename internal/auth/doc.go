// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package auth implements the credential and token lifecycle at the heart of
// Keyfold.
//
// # Domain Types
//
// Domain types (User, AccessToken, ResetTicket) should be created using their
// respective constructors:
//   - NewUser - creates a User with a validated name and email
//   - NewAccessToken - creates an AccessToken bound to a user with a fixed TTL
//   - NewResetTicket - creates a ResetTicket bound to an email with a short TTL
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - login, registration, token issue/validate/revoke, profile
//     updates, password changes
//   - ResetService - password reset request, validation, and redemption
//
// Services are created with New*Service constructors that validate
// dependencies. All operations take an explicit principal; there is no
// ambient "current user" state.
package auth
