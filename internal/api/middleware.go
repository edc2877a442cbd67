/**
 * @file middleware.go
 * @brief Gin 中间件
 */
package api

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CORSMiddleware 跨域资源共享中间件
func CORSMiddleware() gin.HandlerFunc {
	allowedOrigins := loadAllowedOrigins()
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowOrigin := ""
		if origin != "" {
			if _, ok := allowedOrigins[origin]; ok {
				allowOrigin = origin
			}
		}

		if allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400") // 预检结果缓存 24 小时

		// 处理预检请求
		if c.Request.Method == "OPTIONS" {
			if origin != "" && allowOrigin == "" {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求 ID 中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 尝试从 Header 获取 (上游服务传递)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// GetRequestID 返回中间件写入的标准化 request_id。
func GetRequestID(c *gin.Context) string {
	if ridAny, ok := c.Get("request_id"); ok {
		if rid, ok := ridAny.(string); ok && rid != "" {
			return rid
		}
	}
	return c.GetHeader("X-Request-ID")
}

// AuthMiddleware 验证 JWT 并把用户 ID 写入上下文。
// 用户 ID 统一是字符串 (对局文档里的 player1/player2 同源)。
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少 Authorization 请求头", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization 格式无效", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("签名算法不符合预期: %v", token.Header["alg"])
			}
			return getJWTSecret(), nil
		})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token 无效", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token 声明无效", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		userID := extractUserID(claims)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token 缺少用户标识", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		if username, ok := claims["username"].(string); ok {
			c.Set("username", username)
		}
		c.Next()
	}
}

// extractUserID 兼容 user_id (字符串或数字) 和标准 sub 声明
func extractUserID(claims jwt.MapClaims) string {
	if s, ok := claims["user_id"].(string); ok && s != "" {
		return s
	}
	if f, ok := claims["user_id"].(float64); ok {
		return strconv.FormatInt(int64(f), 10)
	}
	if s, ok := claims["sub"].(string); ok {
		return s
	}
	return ""
}

// CurrentUserID 返回 AuthMiddleware 写入的用户 ID；未登录返回空串。
func CurrentUserID(c *gin.Context) string {
	if uidAny, ok := c.Get("user_id"); ok {
		if uid, ok := uidAny.(string); ok {
			return uid
		}
	}
	return ""
}

func getJWTSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		// 开发兜底，生产必须配置
		secret = "dev-secret-change-me"
	}
	return []byte(secret)
}

// MetricsAccessMiddleware 保护 /metrics，禁止匿名远程访问。
func MetricsAccessMiddleware() gin.HandlerFunc {
	token := strings.TrimSpace(os.Getenv("METRICS_TOKEN"))
	return func(c *gin.Context) {
		if token != "" {
			if extractBearerToken(c.GetHeader("Authorization")) != token {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "未授权", "code": "UNAUTHORIZED"})
				c.Abort()
				return
			}
			c.Next()
			return
		}

		// 安全默认值：未配置 token 时仅允许本机抓取。
		if !isLoopbackClientIP(c.ClientIP()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "禁止访问", "code": "FORBIDDEN"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func loadAllowedOrigins() map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		allowed[origin] = struct{}{}
	}
	return allowed
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func isLoopbackClientIP(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	return ip != nil && ip.IsLoopback()
}

// MetricsMiddleware 记录请求指标
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		duration := time.Since(start).Seconds()
		status := fmt.Sprintf("%d", c.Writer.Status())
		method := c.Request.Method

		// 如果 path 为空 (比如 404)，使用占位符
		if path == "" {
			path = "未知"
		}

		RequestTotal.WithLabelValues(method, path, status).Inc()
		RequestDuration.WithLabelValues(method, path, status).Observe(duration)
		requestDurationSeconds.WithLabelValues(path, statusClassFromCode(c.Writer.Status())).Observe(duration)
	}
}
