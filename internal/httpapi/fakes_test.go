// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/keyfold/keyfold/internal/auth"
)

// In-memory repositories with the same conflict and redeem semantics as the
// postgres implementations, so handlers exercise real service paths.

type memUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[ulid.ULID]*auth.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return auth.ErrEmailTaken
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == auth.NormalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return auth.ErrNotFound
	}
	for id, u := range r.users {
		if id != user.ID && u.Email == user.Email {
			return auth.ErrEmailTaken
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.AccessToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[ulid.ULID]*auth.AccessToken)}
}

func (r *memTokenRepo) Create(_ context.Context, token *auth.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *memTokenRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tok := range r.tokens {
		if tok.TokenHash == tokenHash {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memTokenRepo) GetByUser(_ context.Context, userID ulid.ULID) ([]*auth.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auth.AccessToken
	for _, tok := range r.tokens {
		if tok.UserID == userID {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTokenRepo) UpdateLastUsed(_ context.Context, id ulid.ULID, lastUsed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	tok.LastUsedAt = lastUsed
	return nil
}

func (r *memTokenRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.tokens, id)
	return nil
}

func (r *memTokenRepo) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tok := range r.tokens {
		if tok.UserID == userID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *memTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, tok := range r.tokens {
		if now.After(tok.ExpiresAt) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

type memTicketRepo struct {
	mu      sync.Mutex
	tickets map[ulid.ULID]*auth.ResetTicket
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[ulid.ULID]*auth.ResetTicket)}
}

func (r *memTicketRepo) Replace(_ context.Context, ticket *auth.ResetTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tk := range r.tickets {
		if tk.Email == ticket.Email {
			delete(r.tickets, id)
		}
	}
	cp := *ticket
	r.tickets[ticket.ID] = &cp
	return nil
}

func (r *memTicketRepo) GetByEmailAndHash(_ context.Context, email, tokenHash string) (*auth.ResetTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tk := range r.tickets {
		if tk.Email == email && tk.TokenHash == tokenHash {
			cp := *tk
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memTicketRepo) Redeem(_ context.Context, email, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, tk := range r.tickets {
		if tk.Email == email && tk.TokenHash == tokenHash && now.Before(tk.ExpiresAt) {
			delete(r.tickets, id)
			return true, nil
		}
	}
	return false, nil
}

func (r *memTicketRepo) DeleteByEmail(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tk := range r.tickets {
		if tk.Email == email {
			delete(r.tickets, id)
		}
	}
	return nil
}

func (r *memTicketRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, tk := range r.tickets {
		if now.After(tk.ExpiresAt) {
			delete(r.tickets, id)
			n++
		}
	}
	return n, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []auth.AuditEntry
}

func (a *memAudit) Record(_ context.Context, entry auth.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

// captureDispatcher records dispatched reset tokens so tests can complete
// the reset flow.
type captureDispatcher struct {
	mu     sync.Mutex
	tokens map[string]string // email -> last token
}

func newCaptureDispatcher() *captureDispatcher {
	return &captureDispatcher{tokens: make(map[string]string)}
}

func (d *captureDispatcher) SendPasswordReset(_ context.Context, email, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[email] = token
	return nil
}

func (d *captureDispatcher) tokenFor(email string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tokens[email]
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}
