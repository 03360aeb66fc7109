package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type observedRequest struct {
	method string
	path   string
	status int
}

type recordingObserver struct {
	requests []observedRequest
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.requests = append(r.requests, observedRequest{method: method, path: path, status: status})
}

func newProtectedRouter(role models.UserRole, observer RequestObserver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Metrics(observer))
	group := router.Group("/admin")
	group.Use(JWT(stubValidator{claims: &models.JWTClaims{UserID: "admin-a", Role: role}}), RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	group.GET("/pending-actions/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestJWTAndRoles(t *testing.T) {
	cases := []struct {
		name   string
		header string
		role   models.UserRole
		status int
	}{
		{name: "missing header", role: models.RoleAdmin, status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", role: models.RoleAdmin, status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer   ", role: models.RoleAdmin, status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", role: models.RoleAdmin, status: http.StatusUnauthorized},
		{name: "mentor", header: "Bearer good", role: models.RoleMentor, status: http.StatusForbidden},
		{name: "admin", header: "Bearer good", role: models.RoleAdmin, status: http.StatusNoContent},
		{name: "superadmin", header: "bearer good", role: models.RoleSuperAdmin, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newProtectedRouter(tc.role, nil)
			req := httptest.NewRequest(http.MethodGet, "/admin/pending-actions/pa-1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &recordingObserver{}
	router := newProtectedRouter(models.RoleAdmin, observer)

	req := httptest.NewRequest(http.MethodGet, "/admin/pending-actions/pa-42", nil)
	req.Header.Set("Authorization", "Bearer good")
	router.ServeHTTP(httptest.NewRecorder(), req)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if assert.Len(t, observer.requests, 2) {
		assert.Equal(t, observedRequest{method: http.MethodGet, path: "/admin/pending-actions/:id", status: http.StatusNoContent}, observer.requests[0])
		assert.Equal(t, "unmatched", observer.requests[1].path)
		assert.Equal(t, http.StatusNotFound, observer.requests[1].status)
	}
}
