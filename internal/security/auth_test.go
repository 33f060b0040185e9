package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/spacechat/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testingConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.AdminUsers = "root"
	cfg.AuditorUsers = "auditor"
	cfg.APIKeys = map[string]string{"key-1": "ops-agent"}
	cfg.AdminClients = "ops-agent"
	return &cfg
}

func TestResolveTestingModeTakesProfileHeaders(t *testing.T) {
	r := NewTokenResolver(testingConfig())
	id, err := r.Resolve(context.Background(), "alice", Headers{Name: " Alice ", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, "Alice", id.Name)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.False(t, id.IsAdmin)
	assert.Empty(t, id.Roles)
}

func TestResolveProdModeIgnoresProfileHeaders(t *testing.T) {
	cfg := testingConfig()
	cfg.Mode = config.ModeProd
	id, err := NewTokenResolver(cfg).Resolve(context.Background(), "alice", Headers{Name: "Mallory"})
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Empty(t, id.Name)
}

func TestResolveRoles(t *testing.T) {
	r := NewTokenResolver(testingConfig())
	ctx := context.Background()

	id, err := r.Resolve(ctx, "root", Headers{})
	require.NoError(t, err)
	assert.True(t, id.IsAdmin)
	assert.True(t, id.Roles[RoleAuditor], "admin implies auditor")

	id, err = r.Resolve(ctx, "auditor", Headers{})
	require.NoError(t, err)
	assert.False(t, id.IsAdmin)
	assert.True(t, id.Roles[RoleAuditor])

	id, err = r.Resolve(ctx, "bob", Headers{APIKey: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, "ops-agent", id.ClientID)
	assert.True(t, id.IsAdmin)

	id, err = r.Resolve(ctx, "bob", Headers{APIKey: "wrong"})
	require.NoError(t, err)
	assert.Empty(t, id.ClientID)
	assert.False(t, id.IsAdmin)
}

func TestExtractTokenRoles(t *testing.T) {
	roles := extractTokenRoles(map[string]any{
		"roles":        []any{"admin", 7, " "},
		"scope":        "openid spacechat",
		"realm_access": map[string]any{"roles": []any{"auditor"}},
		"groups":       "staff",
	})
	assert.Equal(t, map[string]bool{
		"admin":     true,
		"openid":    true,
		"spacechat": true,
		"auditor":   true,
		"staff":     true,
	}, roles)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := AuthMiddleware(NewTokenResolver(testingConfig()))
	r.GET("/me", auth, func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c)+"/"+EffectiveAdminRole(c))
	})
	r.GET("/admin", auth, RequireAdminRole(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/audit", auth, RequireAuditorRole(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(path, authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "Basic YWxpY2U=").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "Bearer  ").Code)

	w := do("/me", "Bearer auditor")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "auditor/auditor", w.Body.String())

	assert.Equal(t, http.StatusForbidden, do("/admin", "Bearer auditor").Code)
	assert.Equal(t, http.StatusNoContent, do("/audit", "Bearer auditor").Code)
	assert.Equal(t, http.StatusForbidden, do("/audit", "Bearer alice").Code)
	assert.Equal(t, http.StatusNoContent, do("/admin", "Bearer root").Code)
}
