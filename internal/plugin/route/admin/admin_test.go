package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/spacechat/internal/config"
	"github.com/chirino/spacechat/internal/consolidation"
	"github.com/chirino/spacechat/internal/model"
	"github.com/chirino/spacechat/internal/plugin/route/admin"
	"github.com/chirino/spacechat/internal/security"
	"github.com/chirino/spacechat/internal/service"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	router *gin.Engine
	space  *model.Space
}

func setup(t *testing.T, prometheusURL string) *harness {
	t.Helper()
	store := teststore.New(t)
	teststore.User(t, store, "alice", "alice@example.com")
	teststore.User(t, store, "bob", "bob@example.com")
	space := teststore.UserSpace(t, store, "alice", "bob")
	teststore.UserSpace(t, store, "alice", "bob")
	teststore.Chat(t, store, []uuid.UUID{space.ID}, model.GrantOwner, "alice", "bob")

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.AdminUsers = "root"
	cfg.AuditorUsers = "auditor"
	cfg.PrometheusURL = prometheusURL

	runner := consolidation.NewRunner(store, consolidation.Options{})
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(security.AdminAuditMiddleware(false))
	admin.MountRoutes(router, store, runner, service.NewConsolidationService(runner, 0), &cfg,
		security.AuthMiddleware(security.NewTokenResolver(&cfg)))
	return &harness{router: router, space: space}
}

func (h *harness) do(t *testing.T, method, path, userID string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+userID)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestRolesAreEnforced(t *testing.T) {
	h := setup(t, "")
	w, _ := h.do(t, http.MethodGet, "/v1/admin/integrity", "alice")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = h.do(t, http.MethodPost, "/v1/admin/consolidate", "auditor")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConsolidateAndInspect(t *testing.T) {
	h := setup(t, "")

	w, body := h.do(t, http.MethodGet, "/v1/admin/integrity", "auditor")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["clean"])

	w, _ = h.do(t, http.MethodGet, "/v1/admin/consolidate/last", "auditor")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = h.do(t, http.MethodPost, "/v1/admin/consolidate", "root")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, body["spacesArchived"])

	w, body = h.do(t, http.MethodGet, "/v1/admin/consolidate/last", "auditor")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["spacesArchived"])

	w, body = h.do(t, http.MethodGet, "/v1/admin/integrity", "auditor")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["clean"])
}

func TestSpaceDetail(t *testing.T) {
	h := setup(t, "")
	w, body := h.do(t, http.MethodGet, "/v1/admin/spaces/"+h.space.ID.String(), "auditor")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	chats := body["chats"].([]any)
	require.Len(t, chats, 1)
	chat := chats[0].(map[string]any)
	assert.Len(t, chat["participants"], 2)
	assert.EqualValues(t, 0, chat["messageCount"])

	w, _ = h.do(t, http.MethodGet, "/v1/admin/spaces/"+uuid.NewString(), "auditor")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = h.do(t, http.MethodGet, "/v1/admin/chats/bogus", "auditor")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsRequirePrometheus(t *testing.T) {
	h := setup(t, "")
	w, body := h.do(t, http.MethodGet, "/v1/admin/stats/request-rate", "auditor")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "prometheus_not_configured", body["code"])
}

func TestStatsProxyPrometheus(t *testing.T) {
	var queries []string
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		queries = append(queries, query)
		if strings.Contains(query, "by (outcome)") {
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"matrix","result":[
				{"metric":{"outcome":"created"},"values":[[1704067200,"0.5"]]},
				{"metric":{"outcome":"existing"},"values":[[1704067200,"4"],[1704067260,"NaN"]]}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{},"values":[[1704067200,"42.5"],[1704067260,"45.2"]]}]}}`))
	}))
	defer prom.Close()
	h := setup(t, prom.URL)

	w, body := h.do(t, http.MethodGet, "/v1/admin/stats/request-rate", "auditor")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "requests/sec", body["unit"])
	assert.Len(t, body["data"], 2)

	w, body = h.do(t, http.MethodGet, "/v1/admin/stats/resolver-outcomes", "auditor")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	series := body["series"].([]any)
	require.Len(t, series, 2)
	existing := series[1].(map[string]any)
	assert.Equal(t, "existing", existing["label"])
	points := existing["data"].([]any)
	require.Len(t, points, 2)
	assert.Nil(t, points[1].(map[string]any)["value"])

	require.Len(t, queries, 2)
	assert.Contains(t, queries[0], "spacechat_requests_total")
}
