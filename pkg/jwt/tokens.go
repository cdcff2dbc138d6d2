package jwt

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Issuer 簽發者
const Issuer = "go-wallet-ledger"

// ErrMissingSubject token 沒有帶帳戶
var ErrMissingSubject = errors.New("token has no subject")

// RoleOperator 可以產生報表的角色
const RoleOperator = "operator"

// Claims JWT 內容，Subject 就是帳戶的 Key
type Claims struct {
	SessionID string `json:"sid,omitempty"`
	Role      string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// AccountKey 帳戶 Key
func (c *Claims) AccountKey() string {
	return c.Subject
}

// GenerateToken 簽發一個 HS256 token
//
// 登入流程不在這個服務內，這裡只提供給測試與 loadgen 使用
func GenerateToken(accountKey, sessionID, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        NewSessionID(),
			Issuer:    Issuer,
			Subject:   accountKey,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// NewSessionID 依時間排序的 ID (ULID)，也用在 token 的 jti
func NewSessionID() string {
	return ulid.Make().String()
}

// Parse 驗證 token 並取出 claims
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

type contextKey struct{}

// NewContext 把驗證過的 claims 放進 context
func NewContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext 取出認證層放進 context 的 claims
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// BearerToken 從 "Bearer <token>" 取出 token
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
