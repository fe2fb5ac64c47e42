package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const operatorKey contextKey = "operator"

// APIKeyHeader carries the shared operator key.
const APIKeyHeader = "X-API-Key"

// AuthOptions configures operator authentication. Either mechanism may be left empty.
type AuthOptions struct {
	JWTSecret  string
	APIKeyHash string
	Roles      []string
}

// Operator describes the authenticated caller.
type Operator struct {
	Subject string
	Role    string
	Method  string
}

// Auth admits callers holding an HMAC-signed bearer token whose role claim is allowed, or
// an X-API-Key matching the bcrypt hash.
func Auth(opts AuthOptions) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(opts.Roles))
	for _, r := range opts.Roles {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(APIKeyHeader); key != "" {
				if opts.APIKeyHash == "" || bcrypt.CompareHashAndPassword([]byte(opts.APIKeyHash), []byte(key)) != nil {
					http.Error(w, "invalid api key", http.StatusUnauthorized)
					return
				}
				op := Operator{Subject: "api-key", Role: "operator", Method: "api_key"}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, op)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			if opts.JWTSecret == "" {
				http.Error(w, "token auth disabled", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(parts[1])
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(opts.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}
			role, _ := claims["role"].(string)
			if _, ok := allowed[strings.ToLower(role)]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			subject, _ := claims.GetSubject()

			op := Operator{Subject: subject, Role: role, Method: "jwt"}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, op)))
		})
	}
}

// OperatorFromContext retrieves the authenticated operator.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey).(Operator)
	return op, ok
}

// Chain wraps h with middlewares, the first one outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			h = middlewares[i](h)
		}
	}
	return h
}
