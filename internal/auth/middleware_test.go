package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TokenAuthMiddleware(token))
	r.GET("/_topology", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestTokenAuthMiddleware(t *testing.T) {
	r := newEngine("s3cret")

	cases := []struct {
		name  string
		setup func(*http.Request)
		want  int
	}{
		{"no header", func(*http.Request) {}, http.StatusUnauthorized},
		{"token scheme", func(req *http.Request) { req.Header.Set("Authorization", "token s3cret") }, http.StatusOK},
		{"bearer scheme", func(req *http.Request) { req.Header.Set("Authorization", "Bearer s3cret") }, http.StatusOK},
		{"wrong token", func(req *http.Request) { req.Header.Set("Authorization", "token nope") }, http.StatusUnauthorized},
		{"basic user", func(req *http.Request) { req.SetBasicAuth("s3cret", "") }, http.StatusOK},
		{"basic password", func(req *http.Request) { req.SetBasicAuth("", "s3cret") }, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/_topology", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="foldhost"`, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestEmptyTokenAllowsAll(t *testing.T) {
	r := newEngine("")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/_topology", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
