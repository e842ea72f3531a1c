package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"storage-kit-hub/internal/apikey"
	"storage-kit-hub/internal/application/usecases"
	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/metrics"
	"storage-kit-hub/internal/presentation/http/response"
	"storage-kit-hub/internal/ratelimit"
)

// KeyAuthenticator resolves and meters API keys; *usecases.APIKeyUseCase satisfies it.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, plaintext string) (*entities.APIKey, error)
	RecordUsage(ctx context.Context, rec usecases.UsageRecord) error
}

type APIAuthConfig struct {
	Keys    KeyAuthenticator
	Limiter ratelimit.Limiter
	// DefaultLimit applies to keys whose own rate limit is 0.
	DefaultLimit int
	Audit        authz.AuditRecorder
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

// ExtractAPIKey reads the key from Authorization (Bearer or ApiKey scheme, or
// bare) or from X-API-Key.
func ExtractAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		switch {
		case strings.HasPrefix(h, "Bearer "):
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		case strings.HasPrefix(h, "ApiKey "):
			return strings.TrimSpace(strings.TrimPrefix(h, "ApiKey "))
		default:
			return strings.TrimSpace(h)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// APIKeyAuth authenticates the caller, applies the per-key rate limit and
// records usage once the request completes.
func APIKeyAuth(cfg APIAuthConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ip := ClientIP(r)

			plaintext := ExtractAPIKey(r)
			if plaintext == "" {
				cfg.Logger.LogAuthError(ctx, "MISSING_API_KEY", ip, r.URL.Path)
				response.Error(w, derrors.ErrUnauthorized.WithMessage("API key is required"))
				return
			}
			key, err := cfg.Keys.Authenticate(ctx, plaintext)
			if err != nil {
				status, de := response.StatusFor(err)
				cfg.Logger.LogAuthError(ctx, de.Code, ip, r.URL.Path)
				if status == http.StatusUnauthorized && cfg.Audit != nil {
					cfg.Audit.Log(entities.AuditEvent{
						Type:      entities.AuditAuthFailure,
						Severity:  entities.SeverityWarning,
						Outcome:   entities.OutcomeFailure,
						IP:        ip,
						RequestID: logger.RequestIDFrom(ctx),
						Resource:  r.URL.Path,
						Details:   map[string]interface{}{"code": de.Code, "key": apikey.MaskAPIKey(plaintext)},
					})
				}
				response.Error(w, err)
				return
			}

			limit := key.RateLimit
			if limit == 0 {
				limit = cfg.DefaultLimit
			}
			if cfg.Limiter != nil {
				res, err := cfg.Limiter.Allow(ctx, key.ID, limit)
				if err != nil {
					// fail open
					cfg.Logger.Zap().Warn("rate limiter unavailable", zap.Error(err))
				} else {
					setRateLimitHeaders(w, res)
					if !res.Allowed {
						cfg.Metrics.ObserveRateLimited()
						response.Error(w, derrors.ErrRateLimited.WithDetails(map[string]interface{}{
							"limit": res.Limit, "reset_at": res.ResetAt.UTC().Format(time.RFC3339),
						}))
						return
					}
				}
			}

			p := auth.FromAPIKey(key)
			setActor(ctx, p.Actor())
			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(auth.WithPrincipal(ctx, p)))

			usage := usecases.UsageRecord{
				KeyID:      key.ID,
				Endpoint:   r.URL.Path,
				Method:     r.Method,
				Backend:    backendOf(r),
				StatusCode: rec.status,
				Latency:    time.Since(start),
				IP:         ip,
				UserAgent:  r.UserAgent(),
				At:         start,
			}
			go func() {
				uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := cfg.Keys.RecordUsage(uctx, usage); err != nil {
					cfg.Logger.LogError("failed to record api key usage", err, map[string]interface{}{"key_id": usage.KeyID})
				}
			}()
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}
