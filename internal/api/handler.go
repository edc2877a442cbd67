/**
 * @file handler.go
 * @brief API 请求处理器
 */
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/internal/matchmaking"
	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
	"github.com/Raunak1404/Codosphere-sub001/pkg/observability"
	"github.com/gin-gonic/gin"
)

const defaultMaxSubmitBodyBytes int64 = 1 << 20 // 1MB

// statsReader 排位统计查询入口
type statsReader interface {
	GetUserStats(ctx context.Context, userID string) (*model.UserStats, error)
}

// Handler 处理 API 请求
type Handler struct {
	queue    *matchmaking.QueueManager
	engine   *matchmaking.MatchEngine
	listener *matchmaking.MatchListener
	stats    statsReader
	redis    *repository.RedisClient
}

// NewHandler 创建新的 Handler
func NewHandler(queue *matchmaking.QueueManager, engine *matchmaking.MatchEngine, listener *matchmaking.MatchListener, stats statsReader, redis *repository.RedisClient) *Handler {
	return &Handler{queue: queue, engine: engine, listener: listener, stats: stats, redis: redis}
}

type rateLimitConfig struct {
	userLimit int
	window    time.Duration
}

func getRateLimitConfig() rateLimitConfig {
	windowSec := getEnvInt("RATE_LIMIT_WINDOW_SEC", 60)
	return rateLimitConfig{
		userLimit: getEnvInt("RATE_LIMIT_USER_PER_WINDOW", 30),
		window:    time.Duration(windowSec) * time.Second,
	}
}

// checkRateLimit 简单固定窗口限流 (用户维度)
func (h *Handler) checkRateLimit(ctx *gin.Context, userID string) bool {
	cfg := getRateLimitConfig()
	key := common.RateLimitKeyPrefix + userID
	count, err := h.redis.Incr(ctx, key)
	if err != nil {
		slog.Error("限流 Redis 调用失败", "error", err)
		return true // 降级: 放行
	}
	if count == 1 {
		_, _ = h.redis.Expire(ctx, key, cfg.window)
	}
	return count <= int64(cfg.userLimit)
}

// SubmitRequest 对局内提交的请求体
type SubmitRequest struct {
	Code            string `json:"code" binding:"required"`
	Language        string `json:"language" binding:"required"`
	TestCasesPassed int    `json:"test_cases_passed"`
	TotalTestCases  int    `json:"total_test_cases"`
}

// HandleJoinQueue 入队 (POST /api/v1/match/queue)
func (h *Handler) HandleJoinQueue(c *gin.Context) {
	userID := CurrentUserID(c)
	reqID := GetRequestID(c)
	logger := observability.LoggerWithRequest(reqID).With("user_id", userID, "ip", c.ClientIP())

	if !h.checkRateLimit(c, userID) {
		logger.Warn("入队频率超限")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁", "code": "RATE_LIMITED"})
		return
	}

	result, err := h.queue.JoinQueue(c.Request.Context(), userID)
	if err != nil {
		logger.Error("入队失败", "error", err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleCancelQueue 取消排队 (DELETE /api/v1/match/queue)
func (h *Handler) HandleCancelQueue(c *gin.Context) {
	userID := CurrentUserID(c)

	cancelled, err := h.queue.CancelQueue(c.Request.Context(), userID)
	if err != nil {
		slog.Error("取消排队失败", "user_id", userID, "error", err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// HandleGetMatch 查询一局 (GET /api/v1/matches/:match_id)
func (h *Handler) HandleGetMatch(c *gin.Context) {
	matchID := c.Param("match_id")
	if matchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 match_id", "code": "BAD_REQUEST"})
		return
	}

	match, err := h.engine.GetMatch(c.Request.Context(), matchID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, match)
}

// HandleSubmit 对局内提交 (POST /api/v1/matches/:match_id/submission)
func (h *Handler) HandleSubmit(c *gin.Context) {
	userID := CurrentUserID(c)
	matchID := c.Param("match_id")
	reqID := GetRequestID(c)
	logger := observability.LoggerWithRequest(reqID).With("user_id", userID, "match_id", matchID)

	maxBodyBytes := getEnvInt64("SUBMIT_BODY_MAX_BYTES", defaultMaxSubmitBodyBytes)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "请求体过大", "code": "BODY_TOO_LARGE"})
			return
		}
		logger.Warn("请求体格式非法", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式非法", "details": err.Error(), "code": "BAD_REQUEST"})
		return
	}
	if req.TestCasesPassed < 0 || req.TotalTestCases < 0 || req.TestCasesPassed > req.TotalTestCases {
		c.JSON(http.StatusBadRequest, gin.H{"error": "用例计数非法", "code": "INVALID_PARAM"})
		return
	}

	result, err := h.engine.SubmitSolution(c.Request.Context(), userID, matchID, model.Submission{
		Code:            req.Code,
		Language:        req.Language,
		TestCasesPassed: req.TestCasesPassed,
		TotalTestCases:  req.TotalTestCases,
	})
	if err != nil {
		logger.Error("提交失败", "error", err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleForfeit 弃权 (POST /api/v1/matches/:match_id/forfeit)
func (h *Handler) HandleForfeit(c *gin.Context) {
	userID := CurrentUserID(c)
	matchID := c.Param("match_id")

	result, err := h.engine.ForfeitMatch(c.Request.Context(), userID, matchID)
	if err != nil {
		slog.Error("弃权失败", "user_id", userID, "match_id", matchID, "error", err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleRecentMatches 最近完结的对局 (GET /api/v1/matches/recent?limit=N)
func (h *Handler) HandleRecentMatches(c *gin.Context) {
	userID := CurrentUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit > 50 {
		limit = 50
	}

	matches, err := h.engine.RecentMatches(c.Request.Context(), userID, limit)
	if err != nil {
		slog.Error("查询历史对局失败", "user_id", userID, "error", err)
		h.respondError(c, err)
		return
	}
	if matches == nil {
		matches = []*model.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// HandleUserStats 排位统计 (GET /api/v1/users/:user_id/stats)
func (h *Handler) HandleUserStats(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 user_id", "code": "BAD_REQUEST"})
		return
	}

	stats, err := h.stats.GetUserStats(c.Request.Context(), userID)
	if err != nil {
		slog.Error("查询排位统计失败", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "数据库错误", "code": "DB_ERROR"})
		return
	}
	if stats == nil {
		// 没打过排位: 返回零值而不是 404，前端好处理
		stats = &model.UserStats{UserID: userID, RankTitle: model.RankTitleFor(0)}
	}
	c.JSON(http.StatusOK, stats)
}

// respondError 把领域错误映射成 HTTP 状态码
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matchmaking.ErrMatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "对局不存在", "code": "NOT_FOUND"})
	case errors.Is(err, matchmaking.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "不是对局参与者", "code": "FORBIDDEN"})
	case errors.Is(err, common.ErrRetryable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "系统繁忙，请稍后重试", "code": "BUSY"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部错误", "code": "INTERNAL_ERROR"})
	}
}
