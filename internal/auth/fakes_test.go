// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/keyfold/keyfold/internal/auth"
)

// fakeUserRepo is an in-memory UserRepository with real unique-email
// semantics, so conflict paths behave like the postgres implementation.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User

	createErr error
	updateErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[ulid.ULID]*auth.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return auth.ErrEmailTaken
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
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

func (r *fakeUserRepo) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
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

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
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

// fakeTokenRepo is an in-memory AccessTokenRepository.
type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.AccessToken

	createErr error
	deleteErr error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[ulid.ULID]*auth.AccessToken)}
}

func (r *fakeTokenRepo) Create(_ context.Context, token *auth.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *fakeTokenRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.AccessToken, error) {
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

func (r *fakeTokenRepo) GetByUser(_ context.Context, userID ulid.ULID) ([]*auth.AccessToken, error) {
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

func (r *fakeTokenRepo) UpdateLastUsed(_ context.Context, id ulid.ULID, lastUsed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	tok.LastUsedAt = lastUsed
	return nil
}

func (r *fakeTokenRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.tokens[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.tokens, id)
	return nil
}

func (r *fakeTokenRepo) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tok := range r.tokens {
		if tok.UserID == userID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *fakeTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
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

func (r *fakeTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// fakeTicketRepo is an in-memory ResetTicketRepository with the same atomic
// redeem semantics as the postgres conditional delete.
type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[ulid.ULID]*auth.ResetTicket

	replaceErr error
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[ulid.ULID]*auth.ResetTicket)}
}

func (r *fakeTicketRepo) Replace(_ context.Context, ticket *auth.ResetTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return r.replaceErr
	}
	for id, tk := range r.tickets {
		if tk.Email == ticket.Email {
			delete(r.tickets, id)
		}
	}
	cp := *ticket
	r.tickets[ticket.ID] = &cp
	return nil
}

func (r *fakeTicketRepo) GetByEmailAndHash(_ context.Context, email, tokenHash string) (*auth.ResetTicket, error) {
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

func (r *fakeTicketRepo) Redeem(_ context.Context, email, tokenHash string) (bool, error) {
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

func (r *fakeTicketRepo) DeleteByEmail(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tk := range r.tickets {
		if tk.Email == email {
			delete(r.tickets, id)
		}
	}
	return nil
}

func (r *fakeTicketRepo) DeleteExpired(_ context.Context) (int64, error) {
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

func (r *fakeTicketRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

// fakeAudit records entries in memory.
type fakeAudit struct {
	mu      sync.Mutex
	entries []auth.AuditEntry

	recordErr error
}

func (a *fakeAudit) Record(_ context.Context, entry auth.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recordErr != nil {
		return a.recordErr
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) byEvent(event string) []auth.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auth.AuditEntry
	for _, e := range a.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeDispatcher captures dispatched reset tokens.
type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []dispatched
	sendErr error
}

type dispatched struct {
	email string
	token string
}

func (d *fakeDispatcher) SendPasswordReset(_ context.Context, email, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, dispatched{email: email, token: token})
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}
