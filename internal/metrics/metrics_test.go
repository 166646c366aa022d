package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

func TestMetrics_Observer(t *testing.T) {
	m := New()

	m.JoinHandled(autorole.OutcomeInvite)
	m.JoinHandled(autorole.OutcomeInvite)
	m.JoinHandled(autorole.OutcomeMain)
	m.RolesGranted(autorole.KindDefault, 3)
	m.LinksPruned(autorole.PruneStaleRole, 2)
	m.RefreshFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.joins.WithLabelValues("invite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.joins.WithLabelValues("main")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rolesGranted.WithLabelValues("default")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.linksPruned.WithLabelValues("stale_role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshFailures))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.CommandDone("add_link", http.StatusCreated, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `roleinvite_commands_total{command="add_link",status="201"} 1`)
	assert.Contains(t, string(body), "roleinvite_command_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
