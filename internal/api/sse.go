/**
 * @file sse.go
 * @brief 对局与配对结果的 SSE 推送
 */
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/gin-gonic/gin"
)

const defaultSSEHeartbeatSec = 15

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(c *gin.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// HandleQueueEvents 排队用户等配对结果 (GET /api/v1/match/events)。
// 推完第一条 match_found 即关流；排队被取消或客户端断开也会结束。
func (h *Handler) HandleQueueEvents(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	found, unsubscribe, err := h.listener.ListenForMatch(ctx, userID)
	if err != nil {
		slog.Error("建立配对监听失败", "user_id", userID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "系统繁忙，请稍后重试", "code": "BUSY"})
		return
	}
	defer unsubscribe()

	setSSEHeaders(c)
	sseActiveStreams.WithLabelValues("queue").Inc()
	defer sseActiveStreams.WithLabelValues("queue").Dec()

	heartbeat := time.NewTicker(time.Duration(getEnvInt("SSE_HEARTBEAT_SEC", defaultSSEHeartbeatSec)) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev, ok := <-found:
			if !ok {
				return
			}
			if err := writeSSE(c, "match_found", ev); err != nil {
				slog.Warn("推送配对结果失败", "user_id", userID, "error", err)
			}
			return
		}
	}
}

// HandleMatchEvents 订阅一局的后续变更 (GET /api/v1/matches/:match_id/events)。
// 先推一帧当前状态，之后逐帧推更新；对局完结后推完最后一帧关流。
func (h *Handler) HandleMatchEvents(c *gin.Context) {
	matchID := c.Param("match_id")
	ctx := c.Request.Context()

	current, err := h.engine.GetMatch(ctx, matchID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	updates, unsubscribe, err := h.engine.SubscribeToMatch(ctx, matchID)
	if err != nil {
		slog.Error("建立对局订阅失败", "match_id", matchID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "系统繁忙，请稍后重试", "code": "BUSY"})
		return
	}
	defer unsubscribe()

	setSSEHeaders(c)
	sseActiveStreams.WithLabelValues("match").Inc()
	defer sseActiveStreams.WithLabelValues("match").Dec()

	if err := writeSSE(c, "match", current); err != nil {
		return
	}
	if current.Status == model.MatchStatusCompleted {
		return
	}

	heartbeat := time.NewTicker(time.Duration(getEnvInt("SSE_HEARTBEAT_SEC", defaultSSEHeartbeatSec)) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case match, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSSE(c, "match", match); err != nil {
				return
			}
			if match.Status == model.MatchStatusCompleted {
				return
			}
		}
	}
}
