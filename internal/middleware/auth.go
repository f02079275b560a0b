package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"

	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims 由身份服务签发，本服务只做校验。
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken 用同一密钥签发令牌，供本地联调和压测使用。
func SignToken(secret string, userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

func parseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user_id")
	}
	return claims, nil
}

// RequireAuth 校验 Bearer JWT，把 user_id 与 role 放进上下文。
// 浏览器发起 websocket 无法带头部，此时从 token 查询参数读取。
func RequireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok && c.GetHeader("Authorization") == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "缺少登录凭证"})
			return
		}
		claims, err := parseToken(secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "登录凭证无效"})
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin 必须挂在 RequireAuth 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": 403, "msg": "需要管理员权限"})
			return
		}
		c.Next()
	}
}

// RequireNotifyToken 支付网关回调使用共享令牌。
func RequireNotifyToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Notify-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "notify token 无效"})
			return
		}
		c.Next()
	}
}

// UserID 当前登录用户，未登录返回 0。
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}
