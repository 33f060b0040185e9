package security

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("SPACECHAT_TEST_REGION", "eu-west")

	labels, err := ParseMetricsLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	labels, err = ParseMetricsLabels("service=spacechat,region=${SPACECHAT_TEST_REGION}")
	require.NoError(t, err)
	assert.Equal(t, prometheus.Labels{"service": "spacechat", "region": "eu-west"}, labels)

	_, err = ParseMetricsLabels("service")
	assert.Error(t, err)
	_, err = ParseMetricsLabels("1service=spacechat")
	assert.Error(t, err)
}
