package route

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestLoadersAreSortedAndFilteredByType(t *testing.T) {
	var calls []string
	mk := func(name string) RouterLoader {
		return func(*gin.Engine) error {
			calls = append(calls, name)
			return nil
		}
	}
	Register(Plugin{Name: "late", Order: 20, Type: RouteTypeMain, Loader: mk("late")})
	Register(Plugin{Name: "mgmt", Order: 0, Type: RouteTypeManagement, Loader: mk("mgmt")})
	Register(Plugin{Name: "early", Order: 10, Type: RouteTypeMain, Loader: mk("early")})

	for _, l := range MainRouteLoaders() {
		require.NoError(t, l(nil))
	}
	require.Equal(t, []string{"early", "late"}, calls)

	calls = nil
	for _, l := range ManagementRouteLoaders() {
		require.NoError(t, l(nil))
	}
	require.Equal(t, []string{"mgmt"}, calls)
}
