package security

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func loggedRouter(requireJustification bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AccessLogMiddleware("/health"), AdminAuditMiddleware(requireJustification))
	auth := AuthMiddleware(NewTokenResolver(testingConfig()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/spaces/:spaceId", auth, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/admin/integrity", auth, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAccessLogIncludesCaller(t *testing.T) {
	buf := captureLog(t)
	r := loggedRouter(false)

	req := httptest.NewRequest(http.MethodGet, "/v1/spaces/abc", nil)
	req.Header.Set("Authorization", "Bearer alice")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "HTTP request")
	assert.Contains(t, out, "userId=alice")
	assert.Contains(t, out, "route=/v1/spaces/:spaceId")

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())
}

func TestAdminAuditRequiresJustification(t *testing.T) {
	buf := captureLog(t)
	r := loggedRouter(true)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/integrity", nil)
	req.Header.Set("Authorization", "Bearer root")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/integrity", nil)
	req.Header.Set("Authorization", "Bearer root")
	req.Header.Set("X-Justification", "ticket 42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, buf.String(), "Admin audit")
	assert.Contains(t, buf.String(), "caller=root")
	assert.Contains(t, buf.String(), `justification="ticket 42"`)
}
