// auth.go — JWT middleware аутентификации запрашивающего.
// Проверяет подпись токена через JWKS, извлекает имя субъекта и VO-атрибуты
// (FQAN) из claim групп и помещает model.Subject в контекст запроса.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/space-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/space-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/space-manager/internal/httpclient"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeySubject — аутентифицированный субъект в контексте запроса.
const ContextKeySubject contextKey = "subject"

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks        keyfunc.Keyfunc
	issuer      string
	groupsClaim string
	leeway      time.Duration
	logger      *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS по адресу jwksURL.
// groupsClaim — имя claim со списком FQAN субъекта.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	groupsClaim string,
	refreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient, err := httpclient.New(caCertPath, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("HTTP-клиент JWKS: %w", err)
	}

	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, issuer, groupsClaim, logger)
	auth.leeway = leeway
	return auth, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer, groupsClaim string, logger *slog.Logger) *JWTAuth {
	if groupsClaim == "" {
		groupsClaim = "groups"
	}
	return &JWTAuth{
		jwks:        kf,
		issuer:      issuer,
		groupsClaim: groupsClaim,
		logger:      logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256) и помещает субъекта в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			claims := jwt.MapClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(parts[1], claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, ok := j.subjectFromClaims(claims)
			if !ok {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

// subjectFromClaims строит субъекта: имя из preferred_username (или sub),
// FQAN из claim групп в порядке следования.
func (j *JWTAuth) subjectFromClaims(claims jwt.MapClaims) (*model.Subject, bool) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, false
	}

	subject := &model.Subject{Name: sub}
	if name, ok := claims["preferred_username"].(string); ok && name != "" {
		subject.Name = name
	}

	switch groups := claims[j.groupsClaim].(type) {
	case []any:
		for _, g := range groups {
			if s, ok := g.(string); ok && s != "" {
				subject.FQANs = append(subject.FQANs, model.ParseFQAN(s))
			}
		}
	case string:
		for _, s := range strings.Fields(groups) {
			subject.FQANs = append(subject.FQANs, model.ParseFQAN(s))
		}
	}
	return subject, true
}

// Anonymous возвращает middleware, помещающий в контекст анонимного субъекта.
// Используется, когда JWKS не настроен.
func Anonymous() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), model.AnonymousSubject)))
		})
	}
}

// --- Context helpers ---

// WithSubject возвращает контекст с субъектом.
func WithSubject(ctx context.Context, subject *model.Subject) context.Context {
	return context.WithValue(ctx, ContextKeySubject, subject)
}

// SubjectFromContext извлекает субъекта из контекста запроса.
// Возвращает AnonymousSubject, если субъект не найден.
func SubjectFromContext(ctx context.Context) *model.Subject {
	if s, ok := ctx.Value(ContextKeySubject).(*model.Subject); ok && s != nil {
		return s
	}
	return model.AnonymousSubject
}
