package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"go.sia.tech/jape"
)

type ctxKey string

const (
	tokenErrKey   ctxKey = "tokenError"
	backupUserKey ctxKey = "backupUser"
)

// token returns the bearer token of r. A basic auth password is accepted as
// a token for node to node calls.
func token(r *http.Request) string {
	h := r.Header.Get(common.AuthorizationHeaderName)
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	if _, pw, ok := r.BasicAuth(); ok {
		return pw
	}
	return ""
}

// authenticate attaches the caller to the request context. Access tokens
// yield an identity, backup tokens a backup session user. A token that is
// neither is remembered so that routes requiring a user report why.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := token(r)
		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		if id, err := s.svc.Issuer.VerifyAccess(tok); err == nil {
			ctx = auth.WithIdentity(ctx, id)
		} else if user, ok := s.backupUser(tok); ok {
			ctx = context.WithValue(ctx, backupUserKey, user)
		} else {
			ctx = context.WithValue(ctx, tokenErrKey, err)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) backupUser(tok string) (string, bool) {
	if s.svc.BackupServer == nil {
		return "", false
	}
	user, err := s.svc.BackupServer.Authenticate(tok)
	return user, err == nil
}

// requireUser returns the authenticated caller or writes unauthorized.
func requireUser(jc jape.Context) (auth.Identity, bool) {
	ctx := jc.Request.Context()
	if err, ok := ctx.Value(tokenErrKey).(error); ok {
		writeError(jc, err)
		return auth.Identity{}, false
	}
	id, err := auth.RequireUser(ctx)
	if err != nil {
		writeError(jc, err)
		return auth.Identity{}, false
	}
	return id, true
}

// caller is the identity of a route open to anonymous callers. An invalid
// token still fails.
func caller(jc jape.Context) (auth.Identity, bool) {
	ctx := jc.Request.Context()
	if err, ok := ctx.Value(tokenErrKey).(error); ok {
		writeError(jc, err)
		return auth.Identity{}, false
	}
	return auth.IdentityFrom(ctx), true
}

// backupSession guards the internal backup routes.
func (s *Server) backupSession(h func(jc jape.Context, user string)) jape.Handler {
	return func(jc jape.Context) {
		user, ok := jc.Request.Context().Value(backupUserKey).(string)
		if !ok || user == "" {
			writeError(jc, common.ErrInvalidToken)
			return
		}
		h(jc, user)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		args := []any{"method", r.Method, "path", r.URL.Path, "status", sw.status, "bytes", sw.bytes, "duration", time.Since(start)}
		if sw.status >= http.StatusInternalServerError {
			s.logger.Warn(r.Context(), "request", args...)
			return
		}
		s.logger.Debug(r.Context(), "request", args...)
	})
}
