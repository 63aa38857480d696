package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/errs"
)

// AdminRole may read across tenants and query tenant usage.
const AdminRole = "admin"

// Identity is the authenticated caller. Bound is true when the credential
// carried a tenant/role binding (role-keyed tokens or JWT); simple bearer
// tokens authenticate without binding, and an unconfigured server leaves
// the identity open.
type Identity struct {
	Authenticated bool
	Bound         bool
	TenantID      string
	Role          string
}

// Admin reports whether the caller may act across tenants. Unbound
// identities are unrestricted.
func (id Identity) Admin() bool { return !id.Bound || id.Role == AdminRole }

// CanReadTenant reports whether the caller may see records of tenant.
func (id Identity) CanReadTenant(tenant string) bool {
	if id.Admin() {
		return true
	}
	return id.TenantID == tenant
}

type identityKey struct{}

func identityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Identity{}
}

// authenticator resolves bearer credentials against the three configured
// modes: simple tokens, role-keyed tokens, and HS256 JWTs.
type authenticator struct {
	tokens    map[string]bool
	keys      map[string]Identity // token -> bound identity
	jwtSecret []byte
}

func newAuthenticator(cfg config.API) *authenticator {
	a := &authenticator{
		tokens: make(map[string]bool),
		keys:   make(map[string]Identity),
	}
	for _, t := range cfg.AuthTokens {
		a.tokens[t] = true
	}
	for _, k := range cfg.AuthKeys {
		// "[tenant:]role=token"
		spec, token, ok := strings.Cut(k, "=")
		if !ok || token == "" {
			continue
		}
		id := Identity{Authenticated: true, Bound: true}
		if tenant, role, ok := strings.Cut(spec, ":"); ok {
			id.TenantID, id.Role = tenant, role
		} else {
			id.Role = spec
		}
		a.keys[token] = id
	}
	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	}
	return a
}

// enabled reports whether any credential mode is configured. When none
// is, the API runs open.
func (a *authenticator) enabled() bool {
	return len(a.tokens) > 0 || len(a.keys) > 0 || len(a.jwtSecret) > 0
}

type jwtClaims struct {
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (a *authenticator) resolve(r *http.Request) (Identity, error) {
	if !a.enabled() {
		return Identity{}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}, errs.New(errs.CodeAuthRequired, "authorization required")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return Identity{}, errs.New(errs.CodeAuthInvalid, "invalid authorization header")
	}

	if id, ok := a.keys[token]; ok {
		return id, nil
	}
	if a.tokens[token] {
		return Identity{Authenticated: true}, nil
	}
	if len(a.jwtSecret) > 0 {
		var claims jwtClaims
		_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
			return a.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err == nil {
			return Identity{Authenticated: true, Bound: true, TenantID: claims.TenantID, Role: claims.Role}, nil
		}
	}
	return Identity{}, errs.New(errs.CodeAuthInvalid, "invalid credentials")
}

// withAuth is the outermost API middleware; it stores the resolved
// identity on the request context.
func (a *authenticator) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.resolve(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}
