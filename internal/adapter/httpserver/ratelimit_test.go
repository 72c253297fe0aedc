package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/ssebroadcast/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoteAddr = "1.2.3.4:1234"

// publishFrom sends one path-style publish from remoteAddr through handler.
func publishFrom(t *testing.T, handler echo.HandlerFunc, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/broadcast/news/hello", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	require.NoError(t, handler(echo.New().NewContext(req, rec)))
	return rec
}

func TestRateLimiter(t *testing.T) {
	other := "5.6.7.8:5678"

	tests := []struct {
		name      string
		rate      float64
		burst     int
		sequence  []string
		wantCodes []int
	}{
		{
			name:      "within burst",
			rate:      10,
			burst:     3,
			sequence:  []string{testRemoteAddr, testRemoteAddr, testRemoteAddr},
			wantCodes: []int{http.StatusOK, http.StatusOK, http.StatusOK},
		},
		{
			name:      "burst exhausted",
			rate:      0.01,
			burst:     1,
			sequence:  []string{testRemoteAddr, testRemoteAddr},
			wantCodes: []int{http.StatusOK, http.StatusTooManyRequests},
		},
		{
			name:      "clients are limited independently",
			rate:      0.01,
			burst:     1,
			sequence:  []string{testRemoteAddr, other, testRemoteAddr, other},
			wantCodes: []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newRateLimiter(tt.rate, tt.burst)(func(c echo.Context) error {
				return c.String(http.StatusOK, publishedResponse)
			})

			for i, addr := range tt.sequence {
				rec := publishFrom(t, handler, addr)
				assert.Equal(t, tt.wantCodes[i], rec.Code, "request %d from %s", i, addr)
			}
		})
	}
}

func TestRateLimiter_DeniedResponseNamesClient(t *testing.T) {
	handler := newRateLimiter(0.01, 1)(func(c echo.Context) error {
		return c.String(http.StatusOK, publishedResponse)
	})
	publishFrom(t, handler, testRemoteAddr)

	rec := publishFrom(t, handler, testRemoteAddr)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.ErrorResponse{
		Error:   "rate limit exceeded",
		Type:    apperrors.TypeRateLimited,
		Context: map[string]any{"client_ip": "1.2.3.4"},
	}, resp)
}
