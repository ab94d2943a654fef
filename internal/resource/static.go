package resource

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// cachedExtensions 与 nginx 配置中长期缓存的静态资源后缀保持一致
var cachedExtensions = map[string]bool{
	".css": true, ".js": true, ".mjs": true, ".map": true, ".json": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".webp": true, ".avif": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp4": true, ".webm": true, ".mp3": true, ".wasm": true,
}

// IsAsset 判断请求路径是否为可长期缓存的静态资源
func IsAsset(reqPath string) bool {
	return cachedExtensions[strings.ToLower(path.Ext(reqPath))]
}

// NewStaticHandler 返回一个 http.Handler，从 root 目录服务静态文件
// 找不到的非资源路径回退到 /index.html（单页应用）
func NewStaticHandler(root string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqPath := path.Clean("/" + r.URL.Path)

		// Join + Clean 之后必须仍在 root 内，防止目录穿越
		fullPath := filepath.Join(root, filepath.FromSlash(reqPath))
		if fullPath != filepath.Clean(root) && !strings.HasPrefix(fullPath, filepath.Clean(root)+string(filepath.Separator)) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if IsAsset(reqPath) {
			if fileExists(fullPath) {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
				http.ServeFile(w, r, fullPath)
				return
			}
			http.NotFound(w, r)
			return
		}

		if fileExists(fullPath) {
			http.ServeFile(w, r, fullPath)
			return
		}
		if index := filepath.Join(fullPath, "index.html"); dirExists(fullPath) && fileExists(index) {
			http.ServeFile(w, r, index)
			return
		}

		index := filepath.Join(root, "index.html")
		if !fileExists(index) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, index)
	})
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
