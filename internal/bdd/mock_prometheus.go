package bdd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// seriesLabels are the label values the mock reports for each grouping key.
var seriesLabels = map[string][2]string{
	"operation": {"CreateSpace", "ListMessages"},
	"outcome":   {"created", "existing"},
	"kind":      {"duplicate_link", "mirror_chat"},
	"step":      {"duplicate_user_spaces", "orphan_chats"},
}

var groupBy = regexp.MustCompile(`by \(([^)]*)\)`)

// MockPrometheus is a controllable mock Prometheus server for BDD tests.
type MockPrometheus struct {
	Server    *httptest.Server
	mu        sync.Mutex
	available bool
}

// NewMockPrometheus creates a mock Prometheus that returns canned range
// responses. Grouped queries get two series labeled from seriesLabels.
func NewMockPrometheus(t *testing.T) *MockPrometheus {
	t.Helper()
	mp := &MockPrometheus{available: true}
	mp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mp.mu.Lock()
		available := mp.available
		mp.mu.Unlock()

		if !available {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error","error":"unavailable"}`))
			return
		}

		query := r.URL.Query().Get("query")
		if m := groupBy.FindStringSubmatch(query); m != nil {
			keys := strings.Split(m[1], ",")
			key := strings.TrimSpace(keys[len(keys)-1])
			if labels, ok := seriesLabels[key]; ok {
				_, _ = fmt.Fprintf(w, `{
  "status":"success",
  "data":{
    "resultType":"matrix",
    "result":[
      {"metric":{%[1]q:%[2]q},"values":[[1704067200,"0.025"],[1704067260,"0.028"]]},
      {"metric":{%[1]q:%[3]q},"values":[[1704067200,"0.045"],[1704067260,"NaN"]]}
    ]
  }
}`, key, labels[0], labels[1])
				return
			}
		}
		_, _ = w.Write([]byte(`{
  "status":"success",
  "data":{
    "resultType":"matrix",
    "result":[{"metric":{},"values":[[1704067200,"42.5"],[1704067260,"45.2"],[1704067320,"47.8"]]}]
  }
}`))
	}))
	t.Cleanup(mp.Server.Close)
	return mp
}

// SetAvailable toggles whether mock Prometheus returns success or 503.
func (m *MockPrometheus) SetAvailable(value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = value
}
