package cyclemetrics_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/serverpop/internal/cyclemetrics"
	"codeberg.org/mutker/serverpop/internal/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderTextfile(t *testing.T) {
	rec := cyclemetrics.New()
	rec.ObserveQuery("de_dust2", 120, nil)
	rec.ObserveQuery("other_maps", 0, io.EOF)
	rec.ObserveBatch(14, 900, 130, 2)
	rec.ObserveCycle(time.Unix(1792411200, 0), 1500*time.Millisecond, nil)

	path := filepath.Join(t.TempDir(), "serverpop.prom")
	require.NoError(t, rec.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `serverpop_query_servers{query="de_dust2"} 120`)
	assert.Contains(t, text, `serverpop_query_up{query="de_dust2"} 1`)
	assert.Contains(t, text, `serverpop_query_up{query="other_maps"} 0`)
	assert.Contains(t, text, "serverpop_cycle_rows 14")
	assert.Contains(t, text, "serverpop_cycle_players 900")
	assert.Contains(t, text, "serverpop_cycle_skipped_servers 2")
	assert.Contains(t, text, "serverpop_cycle_duration_seconds 1.5")
	assert.Contains(t, text, "serverpop_cycle_success 1")
}

func TestRecorderFailedCycle(t *testing.T) {
	rec := cyclemetrics.New()
	rec.ObserveCycle(time.Now(), time.Second, io.ErrUnexpectedEOF)

	count, err := testutil.GatherAndCount(rec.Gatherer(), "serverpop_cycle_success")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "serverpop_cycle_success" {
			assert.Zero(t, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestWriteTextfileError(t *testing.T) {
	rec := cyclemetrics.New()
	err := rec.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "out.prom"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, cyclemetrics.ErrWriteTextfile))
}
