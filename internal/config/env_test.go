package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("SPACECHAT_ORPHAN_CHAT_GRACE", "PT30M")
	t.Setenv("SPACECHAT_CACHE_UNREAD_TTL", "45s")
	t.Setenv("SPACECHAT_CONSOLIDATION_INTERVAL", "0s")
	t.Setenv("SPACECHAT_API_KEYS_NOTION", "k1, k2")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, 30*time.Minute, cfg.OrphanChatGrace)
	require.Equal(t, 45*time.Second, cfg.CacheUnreadTTL)
	require.Zero(t, cfg.ConsolidationInterval)
	require.Equal(t, map[string]string{"k1": "notion", "k2": "notion"}, cfg.APIKeys)
}

func TestApplyEnv_RejectsBadValues(t *testing.T) {
	t.Setenv("SPACECHAT_TASK_INTERVAL", "often")
	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("PT1H2M3S")
	require.NoError(t, err)
	require.Equal(t, time.Hour+2*time.Minute+3*time.Second, d)

	_, err = ParseDuration("P1D")
	require.Error(t, err)

	_, err = ParseDuration("PT0S")
	require.Error(t, err)
}
