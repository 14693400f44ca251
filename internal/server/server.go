package server

import (
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

// NotFoundBody is returned for every route the relay does not serve.
const NotFoundBody = "NOT_FOUND"

// Options configures the listener-facing routes.
type Options struct {
	// MountPath is where the stream is served, with a leading slash.
	MountPath string
	// StaticDir, when set, serves companion front-end assets for any other GET.
	StaticDir string
}

// NewRouter builds the listener-facing HTTP handler around the stream handler.
func NewRouter(stream http.Handler, opts Options, logger *zap.Logger) (http.Handler, error) {
	mount := opts.MountPath
	if !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}

	gzip, err := gzhttp.NewWrapper(gzhttp.MinSize(0))
	if err != nil {
		return nil, err
	}
	landing := gzip(landingHandler(mount, logger))

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get(mount, stream.ServeHTTP)
	r.Get("/", landing)
	r.Get("/index.html", landing)

	if opts.StaticDir != "" {
		r.Get("/*", staticHandler(opts.StaticDir))
	}

	r.NotFound(notFoundHandler)
	r.MethodNotAllowed(notFoundHandler)

	return r, nil
}

// corsMiddleware lets browser players on other origins read the stream.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(NotFoundBody))
}

// staticHandler serves regular files from dir. Directories and missing files
// get the relay's own 404.
func staticHandler(dir string) http.HandlerFunc {
	root := os.DirFS(dir)
	files := http.FileServerFS(root)
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		info, err := fs.Stat(root, name)
		if err != nil || info.IsDir() {
			notFoundHandler(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}
}

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>tau</title>
</head>
<body>
    <h1>tau</h1>
    <audio controls preload="none" src="{{.}}"></audio>
    <p><a href="{{.}}">{{.}}</a></p>
</body>
</html>
`))

func landingHandler(mount string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := landingTemplate.Execute(w, mount); err != nil {
			logger.Debug("failed to write landing page",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err),
			)
		}
	}
}
