package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meridian-his/meridian-his/internal/audit"
	"github.com/meridian-his/meridian-his/internal/auth"
	"github.com/meridian-his/meridian-his/internal/permission"
	"github.com/meridian-his/meridian-his/internal/platform/httpx"
)

// DefaultPublicEndpoints are always reachable without a token.
var DefaultPublicEndpoints = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/api/v1/auth/",
	"/swagger",
}

// Subject is the authenticated caller as seen by the gate.
type Subject struct {
	UserID      int64
	Roles       []int64
	Permissions []string
}

// TokenParser verifies bearer tokens. The auth issuer satisfies this.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Middleware authorizes every request against a permission derived from the
// route. See Handle for the decision order.
type Middleware struct {
	logger     *slog.Logger
	builder    *permission.Builder
	store      PolicySource
	recorder   audit.Recorder
	tokens     TokenParser
	public     []string
	onDecision func(outcome string)
}

// Option configures optional middleware collaborators.
type Option func(*Middleware)

// WithPublicEndpoints replaces the public allowlist.
func WithPublicEndpoints(endpoints []string) Option {
	return func(m *Middleware) {
		if len(endpoints) > 0 {
			m.public = endpoints
		}
	}
}

// WithDecisionCounter registers a callback receiving one of
// allow/deny/failopen/error per gated request.
func WithDecisionCounter(fn func(outcome string)) Option {
	return func(m *Middleware) { m.onDecision = fn }
}

// NewMiddleware constructs the authorization gate.
func NewMiddleware(logger *slog.Logger, builder *permission.Builder, store PolicySource, recorder audit.Recorder, tokens TokenParser, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		logger:   logger,
		builder:  builder,
		store:    store,
		recorder: recorder,
		tokens:   tokens,
		public:   DefaultPublicEndpoints,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle gates one request. Decision order: public allowlist, then
// authentication, then permission resolution. An unresolvable permission
// passes through: routes the resolver cannot classify (health, metadata)
// are assumed benign by construction of the resolver tables. Everything
// else is checked claims-first, store on miss, and audited exactly once.
// Store failures deny with a 503 so "policy says no" and "the policy
// system is down" stay distinguishable.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.tokens.Parse(auth.BearerToken(r))
		if err != nil {
			// Denied before resolution so the response cannot leak
			// which permission the route would have required.
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		subject, err := subjectFromClaims(claims)
		if err != nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{
			UserID:      subject.UserID,
			Roles:       subject.Roles,
			Permissions: subject.Permissions,
		})
		r = r.WithContext(ctx)

		id, ok := m.builder.FromRequest(r)
		if !ok {
			m.count("failopen")
			next.ServeHTTP(w, r)
			return
		}

		required := PermissionRequirement{Permission: id.String()}
		allowed, err := m.satisfies(ctx, subject, required)
		if err != nil {
			m.count("error")
			m.logger.Error("authorization check failed",
				slog.Int64("user_id", subject.UserID),
				slog.String("permission", required.Permission),
				slog.Any("error", err))
			m.record(ctx, r, subject, required.Permission, audit.DecisionDeny, "store unavailable")
			httpx.Problem(w, http.StatusServiceUnavailable, "Authorization Unavailable",
				"the authorization service could not evaluate this request")
			return
		}

		if !allowed {
			m.count("deny")
			m.logger.Warn("access denied",
				slog.Int64("user_id", subject.UserID),
				slog.String("permission", required.Permission),
				slog.String("path", r.URL.Path))
			m.record(ctx, r, subject, required.Permission, audit.DecisionDeny, "permission not held")
			httpx.RespondError(w, fmt.Errorf("missing permission %s: %w", required.Permission, httpx.ErrForbidden))
			return
		}

		m.count("allow")
		m.logger.Info("access granted",
			slog.Int64("user_id", subject.UserID),
			slog.String("permission", required.Permission))
		m.record(ctx, r, subject, required.Permission, audit.DecisionAllow, "")
		next.ServeHTTP(w, r)
	})
}

// Require gates a route on one explicit requirement, for routes whose
// demand cannot be derived from the path. It assumes Handle already ran
// and rejects unauthenticated requests outright.
func (m *Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			subject := Subject{UserID: identity.UserID, Roles: identity.Roles, Permissions: identity.Permissions}
			allowed, err := m.satisfies(r.Context(), subject, req)
			if err != nil {
				m.count("error")
				m.logger.Error("requirement check failed",
					slog.Int64("user_id", subject.UserID),
					slog.String("requirement", req.String()),
					slog.Any("error", err))
				m.record(r.Context(), r, subject, req.String(), audit.DecisionDeny, "store unavailable")
				httpx.Problem(w, http.StatusServiceUnavailable, "Authorization Unavailable",
					"the authorization service could not evaluate this request")
				return
			}
			if !allowed {
				m.count("deny")
				m.record(r.Context(), r, subject, req.String(), audit.DecisionDeny, "requirement not met")
				httpx.RespondError(w, fmt.Errorf("missing permission %s: %w", req.String(), httpx.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) isPublic(path string) bool {
	for _, p := range m.public {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func (m *Middleware) record(ctx context.Context, r *http.Request, subject Subject, perm string, decision audit.Decision, reason string) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(ctx, audit.Record{
		UserID:     subject.UserID,
		Permission: perm,
		Path:       r.URL.Path,
		Method:     r.Method,
		Decision:   decision,
		Reason:     reason,
		ClientAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
}

func (m *Middleware) count(outcome string) {
	if m.onDecision != nil {
		m.onDecision(outcome)
	}
}

func subjectFromClaims(claims *auth.Claims) (Subject, error) {
	userID, err := claims.UserID()
	if err != nil {
		return Subject{}, err
	}
	return Subject{UserID: userID, Roles: claims.Roles, Permissions: claims.Perms}, nil
}
