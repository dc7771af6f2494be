// Package server exposes the analyzer over HTTP.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/phobologic/archgraph/internal/analyzer"
	"github.com/phobologic/archgraph/internal/ingest"
	"github.com/phobologic/archgraph/internal/model"
)

// Upload form fields. An archive goes in zipfile, a lone source file in
// pyfile.
const (
	fieldArchive = "zipfile"
	fieldSource  = "pyfile"
)

// Config configures a Server.
type Config struct {
	// Options are the per-run defaults; requests may override SymbolLevel.
	Options        analyzer.Options
	MaxUploadBytes int64
	// CacheSize is the number of results kept in memory. Zero disables the
	// cache.
	CacheSize int
	Version   string
}

// Server handles analysis requests.
type Server struct {
	an      *analyzer.Analyzer
	cfg     Config
	cache   *lru.Cache[string, *model.Result]
	reg     *prometheus.Registry
	metrics *metrics
	engine  *gin.Engine
}

// New builds a server and its routes.
func New(an *analyzer.Analyzer, cfg Config) (*Server, error) {
	s := &Server{an: an, cfg: cfg, reg: prometheus.NewRegistry()}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, *model.Result](cfg.CacheSize)
		if err != nil {
			return nil, errors.Errorf("creating result cache: %w", err)
		}
		s.cache = cache
	}
	s.metrics = newMetrics(s.reg, an)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/memory", s.handleMemory)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))
	r.POST("/analyze", s.handleAnalyze)
	s.engine = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slogctx.Info(ctx, "listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	slogctx.Info(ctx, "shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Errorf("shutting down: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := slogctx.With(c.Request.Context(), "request_id", uuid.NewString())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		slogctx.Info(ctx, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "archgraph",
		"version":   s.cfg.Version,
		"endpoints": []string{"POST /analyze", "GET /health", "GET /memory", "GET /metrics"},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"memory": s.an.Governor().Level().String(),
	})
}

func (s *Server) handleMemory(c *gin.Context) {
	c.JSON(http.StatusOK, s.an.Governor().Snapshot())
}

func (s *Server) handleAnalyze(c *gin.Context) {
	ctx := c.Request.Context()
	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}

	file, header, err := formFile(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, http.StatusRequestEntityTooLarge, "too_large", err)
			return
		}
		s.fail(c, http.StatusBadRequest, "invalid", err)
		return
	}
	defer file.Close()

	opts := s.cfg.Options
	opts.Name = header.Filename
	if v := c.PostForm("symbol_level"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(c, http.StatusBadRequest, "invalid", errors.Errorf("symbol_level: %w", err))
			return
		}
		opts.SymbolLevel = b
	}
	s.metrics.uploadBytes.Observe(float64(header.Size))

	key, err := cacheKey(file, opts)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "invalid", err)
		return
	}
	if s.cache != nil {
		if res, ok := s.cache.Get(key); ok {
			s.metrics.cacheHits.Inc()
			slogctx.Debug(ctx, "serving cached result", "name", opts.Name)
			c.JSON(http.StatusOK, res)
			return
		}
	}

	start := time.Now()
	res, err := s.an.Analyze(ctx, file, opts)
	s.metrics.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		var (
			archErr *ingest.ArchiveError
			sizeErr *ingest.SizeLimitError
		)
		switch {
		case errors.As(err, &sizeErr):
			s.fail(c, http.StatusRequestEntityTooLarge, "too_large", err)
		case errors.As(err, &archErr):
			s.fail(c, http.StatusBadRequest, "invalid_archive", err)
		default:
			s.fail(c, http.StatusInternalServerError, "error", err)
		}
		return
	}

	outcome := "complete"
	if res.Partial {
		outcome = "partial"
	} else if s.cache != nil {
		s.cache.Add(key, res)
	}
	s.metrics.analyses.WithLabelValues(outcome).Inc()
	c.JSON(http.StatusOK, res)
}

func (s *Server) fail(c *gin.Context, status int, outcome string, err error) {
	s.metrics.analyses.WithLabelValues(outcome).Inc()
	slogctx.Warn(c.Request.Context(), "analysis request failed", "status", status, "error", err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func formFile(c *gin.Context) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range []string{fieldArchive, fieldSource} {
		header, err := c.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, nil, errors.Errorf("reading upload: %w", err)
		}
		f, err := header.Open()
		if err != nil {
			return nil, nil, errors.Errorf("opening upload: %w", err)
		}
		return f, header, nil
	}
	return nil, nil, errors.Errorf("missing %s or %s upload", fieldArchive, fieldSource)
}

// cacheKey digests the upload and the options that change the result, then
// rewinds the upload.
func cacheKey(f multipart.File, opts analyzer.Options) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Errorf("reading upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", errors.Errorf("rewinding upload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)) + ":" + opts.Name + ":" + strconv.FormatBool(opts.SymbolLevel), nil
}
