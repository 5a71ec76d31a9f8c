// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/httpapi"
)

func newServices(t *testing.T) (*auth.Service, *auth.ResetService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := &memAudit{}
	users := newMemUserRepo()
	tokens := newMemTokenRepo()

	authSvc, err := auth.NewService(users, tokens, auth.NewArgon2idHasher(), audit, auth.WithLogger(logger))
	require.NoError(t, err)
	resetSvc, err := auth.NewResetService(users, newMemTicketRepo(), tokens, auth.NewArgon2idHasher(), newCaptureDispatcher(), audit, logger)
	require.NoError(t, err)
	return authSvc, resetSvc
}

func TestNewServer_Validation(t *testing.T) {
	authSvc, resetSvc := newServices(t)

	tests := []struct {
		name     string
		addr     string
		authSvc  *auth.Service
		resetSvc *auth.ResetService
		wantCode string
	}{
		{"empty addr", "", authSvc, resetSvc, "HTTP_CONFIG_INVALID"},
		{"nil auth service", ":0", nil, resetSvc, "HTTP_NIL_DEPENDENCY"},
		{"nil reset service", ":0", authSvc, nil, "HTTP_NIL_DEPENDENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := httpapi.NewServer(tt.addr, tt.authSvc, tt.resetSvc)
			require.Error(t, err)
			oopsErr, ok := oops.AsOops(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, oopsErr.Code())
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	authSvc, resetSvc := newServices(t)
	srv, err := httpapi.NewServer("127.0.0.1:0", authSvc, resetSvc,
		httpapi.WithServerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	errChan, err := srv.Start()
	require.NoError(t, err)

	// The server answers on its bound address.
	resp, err := http.Get("http://" + srv.Addr() + "/api/auth/validate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Starting twice is rejected.
	_, err = srv.Start()
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	// Stop is idempotent and the serve goroutine exits cleanly.
	require.NoError(t, srv.Stop(ctx))
	select {
	case serveErr := <-errChan:
		assert.NoError(t, serveErr)
	case <-time.After(time.Second):
		t.Fatal("serve goroutine did not exit")
	}
}
