package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/archgraph/internal/analyzer"
	"github.com/phobologic/archgraph/internal/governor"
	"github.com/phobologic/archgraph/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	gov := governor.New(governor.Config{WarningMB: 100, HardMB: 200, Sampler: func() uint64 { return 0 }})
	if cfg.Options.MaxFileCount == 0 {
		cfg.Options = analyzer.DefaultOptions()
	}
	s, err := New(analyzer.New(gov, "test"), cfg)
	require.NoError(t, err)
	return s
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func upload(t *testing.T, field, filename string, data []byte, form map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range form {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		w, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()

	w := serve(newServer(t, Config{}), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ok", resp["memory"])
}

func TestIndex(t *testing.T) {
	t.Parallel()

	w := serve(newServer(t, Config{Version: "1.2.3"}), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)
	assert.Contains(t, w.Body.String(), "POST /analyze")
}

func TestMemory(t *testing.T) {
	t.Parallel()

	w := serve(newServer(t, Config{}), httptest.NewRequest(http.MethodGet, "/memory", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var snap governor.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, uint64(100), snap.WarningMB)
	assert.Equal(t, uint64(200), snap.HardMB)
}

func TestAnalyzeArchive(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{})
	data := zipBytes(t, map[string]string{
		"a.py": "from b import g\n\ndef f():\n    g()\n",
		"b.py": "def g():\n    pass\n",
	})
	w := serve(s, upload(t, "zipfile", "code.zip", data, map[string]string{"symbol_level": "true"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Partial)
	assert.True(t, res.Summary.SymbolLevel)
	assert.Contains(t, res.Edges, model.Edge{From: "a:f", To: "b:g", Kind: model.Calls, Weight: 1})
	assert.Equal(t, []string{"f"}, res.ModuleDetails["a"].DeadFunctions)
}

func TestAnalyzeSingleFile(t *testing.T) {
	t.Parallel()

	w := serve(newServer(t, Config{}), upload(t, "pyfile", "script.py", []byte("def main():\n    pass\n"), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Summary.AnalyzedModules)
	assert.Contains(t, res.ModuleDetails, "script")
}

func TestAnalyzeErrors(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{})

	w := serve(s, upload(t, "", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing zipfile or pyfile upload")

	w = serve(s, upload(t, "zipfile", "bad.zip", []byte("garbage"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, upload(t, "zipfile", "a.zip", zipBytes(t, map[string]string{"a.py": ""}), map[string]string{"symbol_level": "maybe"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeEntryTooLarge(t *testing.T) {
	t.Parallel()

	opts := analyzer.DefaultOptions()
	opts.MaxEntryBytes = 4
	s := newServer(t, Config{Options: opts})

	w := serve(s, upload(t, "zipfile", "a.zip", zipBytes(t, map[string]string{"a.py": "x = 12345\n"}), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadLimit(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{MaxUploadBytes: 256})
	w := serve(s, upload(t, "pyfile", "big.py", []byte(strings.Repeat("x = 1\n", 200)), nil))
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, w.Code)
}

func TestResultCache(t *testing.T) {
	t.Parallel()

	s := newServer(t, Config{CacheSize: 4})
	data := zipBytes(t, map[string]string{"a.py": "def f():\n    pass\n"})

	first := serve(s, upload(t, "zipfile", "a.zip", data, nil))
	require.Equal(t, http.StatusOK, first.Code)
	second := serve(s, upload(t, "zipfile", "a.zip", data, nil))
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	third := serve(s, upload(t, "zipfile", "a.zip", data, map[string]string{"symbol_level": "true"}))
	require.Equal(t, http.StatusOK, third.Code)

	metrics := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metrics.Code)
	body := metrics.Body.String()
	assert.Contains(t, body, "archgraph_cache_hits_total 1")
	assert.Contains(t, body, `archgraph_analyses_total{outcome="complete"} 2`)
	assert.Contains(t, body, "archgraph_memory_usage_bytes")
}
