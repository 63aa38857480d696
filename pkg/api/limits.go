package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/errs"
)

// rateLimiters holds the global token bucket plus one per tenant, sized
// from the window/max-request settings.
type rateLimiters struct {
	global *rate.Limiter

	mu          sync.Mutex
	tenants     map[string]*rate.Limiter
	tenantLimit rate.Limit
	tenantBurst int
}

func limiterFor(windowMs, maxRequests int) (rate.Limit, int) {
	if windowMs <= 0 || maxRequests <= 0 {
		return rate.Inf, 0
	}
	window := time.Duration(windowMs) * time.Millisecond
	return rate.Limit(float64(maxRequests) / window.Seconds()), maxRequests
}

func newRateLimiters(cfg config.API) *rateLimiters {
	globalLimit, globalBurst := limiterFor(cfg.RateLimitWindowMs, cfg.RateLimitMaxRequests)
	tenantLimit, tenantBurst := limiterFor(cfg.TenantRateLimitWindowMs, cfg.TenantRateLimitMaxRequests)
	return &rateLimiters{
		global:      rate.NewLimiter(globalLimit, globalBurst),
		tenants:     make(map[string]*rate.Limiter),
		tenantLimit: tenantLimit,
		tenantBurst: tenantBurst,
	}
}

func (l *rateLimiters) allowGlobal() bool {
	return l.global.Limit() == rate.Inf || l.global.Allow()
}

func (l *rateLimiters) allowTenant(tenant string) bool {
	if tenant == "" || l.tenantLimit == rate.Inf {
		return true
	}
	l.mu.Lock()
	lim, ok := l.tenants[tenant]
	if !ok {
		lim = rate.NewLimiter(l.tenantLimit, l.tenantBurst)
		l.tenants[tenant] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// withRateLimits runs after auth so the per-tenant bucket can key on the
// bound identity.
func (l *rateLimiters) withRateLimits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allowGlobal() {
			writeErrorCode(w, errs.CodeRateLimited, "rate limit exceeded")
			return
		}
		if id := identityFrom(r.Context()); id.Bound && !l.allowTenant(id.TenantID) {
			writeErrorCode(w, errs.CodeTenantRateLimited, "tenant rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
