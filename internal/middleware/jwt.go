package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/gofiber/fiber/v3"
)

const operatorKey = "operator"

// jwtHeader is the fixed, pre-encoded HS256 header segment.
var jwtHeader = encodeSegment([]byte(`{"alg":"HS256","typ":"JWT"}`))

// JWTConfig holds operator token settings.
type JWTConfig struct {
	Secret    string
	Issuer    string
	ExpiresIn time.Duration
}

// Enabled reports whether tokens are checked at all.
func (cfg JWTConfig) Enabled() bool { return cfg.Secret != "" }

// OperatorGuard admits only requests carrying a valid operator token and
// stores the OperatorContext in fiber locals. With an empty secret every
// request passes untouched.
func OperatorGuard(cfg JWTConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !cfg.Enabled() {
			return c.Next()
		}

		raw := requestToken(c)
		if raw == "" {
			return deny(c, fiber.StatusUnauthorized, "missing authorization")
		}
		claims, err := ValidateJWT(raw, cfg)
		if err != nil {
			return deny(c, fiber.StatusUnauthorized, err.Error())
		}

		op := claims.Operator()
		c.Locals(operatorKey, op)
		if !op.CanMutateIndex() {
			return deny(c, fiber.StatusForbidden, fmt.Sprintf("role %q may not modify the index", op.Role))
		}
		return c.Next()
	}
}

// requestToken reads a bearer token, falling back to ?token= for
// EventSource clients that cannot set headers.
func requestToken(c fiber.Ctx) string {
	scheme, tok, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(tok)
	}
	return c.Query("token")
}

func deny(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// GetOperator returns the operator the guard admitted, or nil.
func GetOperator(c fiber.Ctx) *domain.OperatorContext {
	op, _ := c.Locals(operatorKey).(*domain.OperatorContext)
	return op
}

// Claims is the operator token payload.
type Claims struct {
	Subject   string `json:"sub"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Operator converts the claims into the context handlers see.
func (c *Claims) Operator() *domain.OperatorContext {
	return &domain.OperatorContext{ID: c.Subject, Name: c.Name, Role: c.Role}
}

// GenerateJWT mints an HS256 token for op.
func GenerateJWT(op *domain.OperatorContext, cfg JWTConfig) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("JWT secret is not configured")
	}
	now := time.Now()
	payload, err := json.Marshal(Claims{
		Subject:   op.ID,
		Name:      op.Name,
		Role:      op.Role,
		Issuer:    cfg.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(cfg.ExpiresIn).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	unsigned := jwtHeader + "." + encodeSegment(payload)
	return unsigned + "." + signHS256(unsigned, cfg.Secret), nil
}

// ValidateJWT checks signature, expiry and issuer. Failures wrap
// port.ErrTokenInvalid or port.ErrTokenExpired.
func ValidateJWT(raw string, cfg JWTConfig) (*Claims, error) {
	dot := strings.LastIndexByte(raw, '.')
	if dot < 0 || strings.Count(raw, ".") != 2 {
		return nil, fmt.Errorf("%w: bad format", port.ErrTokenInvalid)
	}
	unsigned, sig := raw[:dot], raw[dot+1:]
	if !hmac.Equal([]byte(sig), []byte(signHS256(unsigned, cfg.Secret))) {
		return nil, fmt.Errorf("%w: bad signature", port.ErrTokenInvalid)
	}

	payload, err := base64.RawURLEncoding.DecodeString(unsigned[strings.IndexByte(unsigned, '.')+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", port.ErrTokenInvalid)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: bad claims", port.ErrTokenInvalid)
	}

	switch {
	case time.Now().Unix() > claims.ExpiresAt:
		return nil, port.ErrTokenExpired
	case claims.Issuer != cfg.Issuer:
		return nil, fmt.Errorf("%w: issuer %q", port.ErrTokenInvalid, claims.Issuer)
	}
	return &claims, nil
}

func encodeSegment(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func signHS256(input, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return encodeSegment(mac.Sum(nil))
}
