// Package service 提供控制台的平台级服务：管理员账户、JWT 鉴权与操作审计
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin 是唯一允许执行 bundle 操作的角色
const RoleAdmin = "admin"

const tokenIssuer = "BundleConsole"

// ErrInvalidToken 表示 JWT 无效、过期或解析失败。
var ErrInvalidToken = errors.New("invalid or expired token")

// Claim 定义 JWT 的载荷结构
type Claim struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey int

// ClaimKey 是 Claim 在 request context 中的键
const ClaimKey ctxKey = 0

// ContextWithClaim 返回携带 Claim 的 context
func ContextWithClaim(ctx context.Context, c *Claim) context.Context {
	return context.WithValue(ctx, ClaimKey, c)
}

// ClaimFrom 取出中间件放入的 Claim，没有时返回 nil
func ClaimFrom(r *http.Request) *Claim {
	val := r.Context().Value(ClaimKey)
	if val == nil {
		return nil
	}
	claims, ok := val.(*Claim)
	if !ok {
		log.Printf("警告: context 中 ClaimKey 的值类型不是 *Claim: %T", val)
		return nil
	}
	return claims
}

// Authenticator 持有管理员账户库与签名密钥
type Authenticator struct {
	db       *sql.DB
	hmacKey  []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// NewAuthenticator 创建 Authenticator 实例
func NewAuthenticator(db *sql.DB, hmacKey []byte, tokenTTL time.Duration) (*Authenticator, error) {
	if db == nil {
		return nil, errors.New("NewAuthenticator 接收到空的数据库连接")
	}
	if len(hmacKey) == 0 {
		return nil, errors.New("JWT 签名密钥不能为空")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Authenticator{db: db, hmacKey: hmacKey, tokenTTL: tokenTTL, now: time.Now}, nil
}

// UserCount 返回用户表中的用户数量
func (a *Authenticator) UserCount(ctx context.Context) int {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _user`).Scan(&n); err != nil {
		log.Printf("错误: UserCount 查询失败: %v", err)
		return 0
	}
	return n
}

// CreateAdmin 创建一个管理员用户
func (a *Authenticator) CreateAdmin(ctx context.Context, user, pass string) error {
	if user == "" || pass == "" {
		return errors.New("用户名或密码不能为空")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("生成密码哈希失败: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO _user(username, password_hash, role)
		VALUES (?, ?, ?)`, user, string(hash), RoleAdmin)
	if err != nil {
		return fmt.Errorf("插入管理员用户 '%s' 失败: %w", user, err)
	}
	return nil
}

// CheckUser 校验用户名和密码，成功则返回用户 ID、角色和 true
func (a *Authenticator) CheckUser(ctx context.Context, user, pass string) (id int64, role string, ok bool) {
	var hash string
	err := a.db.QueryRowContext(ctx, `SELECT id, password_hash, role FROM _user WHERE username = ?`, user).
		Scan(&id, &hash, &role)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("错误: CheckUser 查询用户 '%s' 时失败: %v", user, err)
		}
		return 0, "", false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		return 0, "", false
	}
	return id, role, true
}

func (a *Authenticator) userExists(ctx context.Context, id int64) bool {
	var one int
	err := a.db.QueryRowContext(ctx, `SELECT 1 FROM _user WHERE id = ?`, id).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Printf("错误: 查询用户 ID %d 时失败: %v", id, err)
	}
	return err == nil
}

// GenToken 生成一个新的 JWT
func (a *Authenticator) GenToken(uid int64, role string) (string, error) {
	now := a.now()
	claims := Claim{
		ID:   uid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.hmacKey)
	if err != nil {
		return "", fmt.Errorf("签名 JWT 失败: %w", err)
	}
	return signed, nil
}

// ParseToken 解析并验证 JWT 字符串
func (a *Authenticator) ParseToken(tokenString string) (*Claim, error) {
	claims := &Claim{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名方法: %v", token.Header["alg"])
		}
		return a.hmacKey, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, jwt.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w (detail: %v)", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware 解析 Bearer 令牌，把有效且用户仍存在的 Claim 放入 context。
// 自身从不拒绝请求，由后续的 RequireAdmin 决定。
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.ParseToken(tokenString)
		switch {
		case err != nil:
			log.Printf("认证中间件: Token无效或已过期。请求路径: %s, IP: %s (错误详情: %v)", r.URL.Path, r.RemoteAddr, err)
		case !a.userExists(r.Context(), claims.ID):
			log.Printf("认证中间件: 用户 ID %d (来自有效JWT) 在数据库中未找到。请求路径: %s", claims.ID, r.URL.Path)
		default:
			r = r.WithContext(ContextWithClaim(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}
