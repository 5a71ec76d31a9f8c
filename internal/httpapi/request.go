// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/keyfold/keyfold/internal/auth"
)

// maxBodyBytes caps request bodies. Auth payloads are tiny; anything bigger
// is hostile or broken.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fieldErrors accumulates per-field validation messages in request order.
type fieldErrors map[string][]string

func (fe fieldErrors) add(field, message string) {
	fe[field] = append(fe[field], message)
}

func (fe fieldErrors) ok() bool { return len(fe) == 0 }

type registerRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (req *registerRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if err := auth.ValidateName(req.Name); err != nil {
		errs.add("name", err.Error())
	}
	if err := auth.ValidateEmail(req.Email); err != nil {
		errs.add("email", err.Error())
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		errs.add("password", err.Error())
	}
	if req.Password != req.PasswordConfirmation {
		errs.add("password_confirmation", "password confirmation does not match")
	}
	return errs
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req *loginRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if req.Email == "" {
		errs.add("email", "email is required")
	}
	if req.Password == "" {
		errs.add("password", "password is required")
	}
	return errs
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (req *forgotPasswordRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if err := auth.ValidateEmail(req.Email); err != nil {
		errs.add("email", err.Error())
	}
	return errs
}

type validateResetTokenRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func (req *validateResetTokenRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if req.Email == "" {
		errs.add("email", "email is required")
	}
	if req.Token == "" {
		errs.add("token", "token is required")
	}
	return errs
}

type resetPasswordRequest struct {
	Email                string `json:"email"`
	Token                string `json:"token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (req *resetPasswordRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if req.Email == "" {
		errs.add("email", "email is required")
	}
	if req.Token == "" {
		errs.add("token", "token is required")
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		errs.add("password", err.Error())
	}
	if req.Password != req.PasswordConfirmation {
		errs.add("password_confirmation", "password confirmation does not match")
	}
	return errs
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (req *updateProfileRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if req.Name != nil {
		if err := auth.ValidateName(*req.Name); err != nil {
			errs.add("name", err.Error())
		}
	}
	if req.Email != nil {
		if err := auth.ValidateEmail(*req.Email); err != nil {
			errs.add("email", err.Error())
		}
	}
	return errs
}

type changePasswordRequest struct {
	CurrentPassword      string `json:"current_password"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (req *changePasswordRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if req.CurrentPassword == "" {
		errs.add("current_password", "current password is required")
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		errs.add("password", err.Error())
	}
	if req.Password != req.PasswordConfirmation {
		errs.add("password_confirmation", "password confirmation does not match")
	}
	if req.Password != "" && req.Password == req.CurrentPassword {
		errs.add("password", "new password must differ from current password")
	}
	return errs
}
