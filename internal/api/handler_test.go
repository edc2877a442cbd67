package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Raunak1404/Codosphere-sub001/internal/matchmaking"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestRespondError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{}

	cases := []struct {
		err  error
		want int
	}{
		{matchmaking.ErrMatchNotFound, http.StatusNotFound},
		{matchmaking.ErrNotParticipant, http.StatusForbidden},
		{fmt.Errorf("事务放弃: %w", common.ErrRetryable), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		h.respondError(c, tc.err)
		if w.Code != tc.want {
			t.Errorf("respondError(%v) = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestExtractUserID(t *testing.T) {
	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"string user_id", jwt.MapClaims{"user_id": "u-123"}, "u-123"},
		{"numeric user_id", jwt.MapClaims{"user_id": float64(42)}, "42"},
		{"sub fallback", jwt.MapClaims{"sub": "u-456"}, "u-456"},
		{"missing", jwt.MapClaims{}, ""},
	}
	for _, tc := range cases {
		if got := extractUserID(tc.claims); got != tc.want {
			t.Errorf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestStatusClassFromCode(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
	}
	for code, want := range cases {
		if got := statusClassFromCode(code); got != want {
			t.Errorf("statusClassFromCode(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": CurrentUserID(c)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("JWT_SECRET", "test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u-789"})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	r := gin.New()
	r.Use(AuthMiddleware())
	var gotUserID string
	r.GET("/protected", func(c *gin.Context) {
		gotUserID = CurrentUserID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}
	if gotUserID != "u-789" {
		t.Fatalf("user id not propagated: got %q", gotUserID)
	}
}
