package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chirino/spacechat/internal/plugin/store/gormstore"
	registrynotify "github.com/chirino/spacechat/internal/registry/notify"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []registrynotify.Event
	fail   bool
}

func (s *recordingSink) Notify(_ context.Context, event registrynotify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Events() []registrynotify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registrynotify.Event(nil), s.events...)
}

type fixture struct {
	store *gormstore.Store
	sink  *recordingSink
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := teststore.New(t)
	sink := &recordingSink{}
	svc, err := New(store, sink, nil, Options{UserCacheSize: 100})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		teststore.User(t, store, id, id+"@example.com")
	}
	return &fixture{store: store, sink: sink, svc: svc}
}

func grants(res *Resolution) map[string]string {
	out := map[string]string{}
	for _, p := range res.Participants {
		out[p.UserID] = string(p.Grant)
	}
	return out
}
