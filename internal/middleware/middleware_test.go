package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"watchparty-service/internal/mocks"
	"watchparty-service/internal/models"
	"watchparty-service/internal/session"
)

func setupRouter(v TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/me", AuthMiddleware(v), func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.GetString(UserIDKey), "username": user.Username})
	})
	return router
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	v := new(mocks.TokenValidatorMock)
	v.On("ValidateToken", mock.Anything, "good").Return(models.User{ID: "u1", Username: "ana"}, nil)
	router := setupRouter(v)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"id":"u1","username":"ana"}`, resp.Body.String())
	v.AssertExpectations(t)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		status int
	}{
		{"missing header", "", nil, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", nil, http.StatusUnauthorized},
		{"rejected token", "Bearer bad", session.ErrUnauthorized, http.StatusUnauthorized},
		{"service down", "Bearer bad", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := new(mocks.TokenValidatorMock)
			if tt.err != nil {
				v.On("ValidateToken", mock.Anything, "bad").Return(nil, tt.err)
			}
			router := setupRouter(v)

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			assert.Equal(t, tt.status, resp.Code)
			v.AssertExpectations(t)
		})
	}
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, "req-42", resp.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", resp.Body.String())

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, resp.Header().Get(RequestIDHeader))
	assert.Equal(t, resp.Header().Get(RequestIDHeader), resp.Body.String())
}
