package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const rateLimitNamespace = "sf:rl"

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// RateLimitPolicy is a fixed window shared by a per-IP and a per-payer-email
// counter. A zero limit disables that counter.
type RateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	emailLimit int
}

func NewRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	return RateLimitPolicy{name: name, window: window, ipLimit: ipLimit, emailLimit: emailLimit}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.emailLimit > 0)
}

// key returns sf:rl:<policy>:<scope>:<subject>.
func (p RateLimitPolicy) key(scope, subject string) string {
	return strings.Join([]string{rateLimitNamespace, p.name, scope, subject}, ":")
}

// counter is one limit checked for a request. Emails are hashed before they
// reach redis or the logs.
type counter struct {
	scope   string
	subject string
	limit   int
}

// RateLimit enforces the policy's counters in order and rejects with 429 and
// Retry-After on the first one exceeded. The payer email comes from the token
// when present, otherwise from "guest.email" or "email" in the JSON body.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			counters, err := policy.countersFor(r)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}

			for _, c := range counters {
				hits, err := store.IncrWithTTL(ctx, policy.key(c.scope, c.subject), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limit counter"))
					return
				}
				if hits > int64(c.limit) {
					policy.reject(ctx, logg, w, c, hits)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p RateLimitPolicy) countersFor(r *http.Request) ([]counter, error) {
	var counters []counter
	if p.ipLimit > 0 {
		if ip := clientIP(r); ip != "" {
			counters = append(counters, counter{scope: "ip", subject: ip, limit: p.ipLimit})
		}
	}
	if p.emailLimit > 0 {
		email := EmailFromContext(r.Context())
		if email == "" {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				return nil, err
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			email = payerEmail(body)
		}
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			counters = append(counters, counter{scope: "email", subject: hashValue(email), limit: p.emailLimit})
		}
	}
	return counters, nil
}

func (p RateLimitPolicy) reject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, c counter, hits int64) {
	retryAfter := int(p.window.Round(time.Second) / time.Second)
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":        p.name,
			"scope":         c.scope,
			"subject":       c.subject,
			"hits":          hits,
			"limit":         c.limit,
			"retry_after_s": retryAfter,
		}), "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many checkout attempts"))
}

// clientIP takes the first X-Forwarded-For hop set by the load balancer,
// then X-Real-IP, then the socket address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func payerEmail(payload []byte) string {
	var body struct {
		Email string `json:"email"`
		Guest struct {
			Email string `json:"email"`
		} `json:"guest"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	if body.Guest.Email != "" {
		return body.Guest.Email
	}
	return body.Email
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
