package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveStep("ISSUE_CERTS", 1500*time.Millisecond, 2)
	r.SetApps("static", 3)
	r.SetApps("containerized", 1)
	r.Finish(true, time.Unix(1700000000, 0))

	assert.Equal(t, float64(2), testutil.ToFloat64(r.stepFailures.WithLabelValues("ISSUE_CERTS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.success))

	path := filepath.Join(t.TempDir(), "foldhost.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `foldhost_deploy_step_duration_seconds{step="ISSUE_CERTS"} 1.5`)
	assert.Contains(t, text, `foldhost_deploy_apps{kind="static"} 3`)
	assert.Contains(t, text, "foldhost_deploy_success 1")
	assert.True(t, strings.Contains(text, "foldhost_deploy_last_run_timestamp_seconds "))
}

func TestRecorderFailure(t *testing.T) {
	r := NewRecorder()
	r.Finish(false, time.Now())
	assert.Equal(t, float64(0), testutil.ToFloat64(r.success))
}
