package resource

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>spa</h1>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "app.js"), []byte("console.log(1)"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "robots.txt"), []byte("User-agent: *"), 0644))
	return root
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestStaticServesAssetsWithCache(t *testing.T) {
	h := NewStaticHandler(setupSite(t))

	w := get(h, "/assets/app.js")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
}

func TestStaticMissingAssetIs404(t *testing.T) {
	h := NewStaticHandler(setupSite(t))
	assert.Equal(t, http.StatusNotFound, get(h, "/assets/missing.css").Code)
}

func TestStaticSPAFallback(t *testing.T) {
	h := NewStaticHandler(setupSite(t))

	w := get(h, "/dashboard/settings")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<h1>spa</h1>", w.Body.String())
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	w = get(h, "/robots.txt")
	assert.Equal(t, "User-agent: *", w.Body.String())
}

func TestStaticNoIndex(t *testing.T) {
	h := NewStaticHandler(t.TempDir())
	assert.Equal(t, http.StatusNotFound, get(h, "/anything").Code)
}

func TestStaticTraversalStaysInRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "site")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0644))

	h := NewStaticHandler(root)
	w := get(h, "/../secret.txt")
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestIsAsset(t *testing.T) {
	assert.True(t, IsAsset("/a/b/logo.PNG"))
	assert.True(t, IsAsset("/fonts/x.woff2"))
	assert.False(t, IsAsset("/about"))
	assert.False(t, IsAsset("/index.html"))
}
