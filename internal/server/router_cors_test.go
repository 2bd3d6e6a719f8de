package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORSPreflightAllowsVoteRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testCases := []struct {
		name       string
		origins    []string
		origin     string
		wantOrigin string
	}{
		{name: "wildcard", origins: []string{"*"}, origin: "https://app.example.com", wantOrigin: "*"},
		{name: "unset", origins: nil, origin: "https://app.example.com", wantOrigin: "*"},
		{name: "explicit", origins: []string{"https://laws.example.com"}, origin: "https://laws.example.com", wantOrigin: "https://laws.example.com"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			router := gin.New()
			router.Use(corsMiddleware(testCase.origins))
			router.DELETE("/api/laws/:id/vote", func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			request := httptest.NewRequest(http.MethodOptions, "/api/laws/1/vote", http.NoBody)
			request.Header.Set("Origin", testCase.origin)
			request.Header.Set("Access-Control-Request-Method", http.MethodDelete)
			request.Header.Set("Access-Control-Request-Headers", "Content-Type")

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, request)

			if recorder.Code != http.StatusNoContent {
				t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
			}
			if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != testCase.wantOrigin {
				t.Fatalf("expected allow origin %q, got %q", testCase.wantOrigin, got)
			}
			if methods := recorder.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, http.MethodDelete) {
				t.Fatalf("expected DELETE to be allowed, got %q", methods)
			}
		})
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://laws.example.com"}))
	router.GET("/api/laws", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodGet, "/api/laws", http.NoBody)
	request.Header.Set("Origin", "https://elsewhere.example.com")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden status, got %d", recorder.Code)
	}
}
