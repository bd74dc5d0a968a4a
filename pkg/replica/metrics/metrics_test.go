package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
	"github.com/jamesainslie/replica/pkg/replica/reconciler"
)

func TestRecordActions(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	require.NoError(t, m.Record(journal.Action{Kind: journal.AddFile, Bytes: 10}))
	require.NoError(t, m.Record(journal.Action{Kind: journal.ModifyFile, Bytes: 5}))
	require.NoError(t, m.Record(journal.Action{Kind: journal.AddFile, Bytes: 1}))
	require.NoError(t, m.Record(journal.Action{Kind: journal.RemoveDir}))

	assert.InDelta(t, 2, testutil.ToFloat64(m.actionsTotal.WithLabelValues("add_file")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.actionsTotal.WithLabelValues("modify_file")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.actionsTotal.WithLabelValues("remove_dir")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.actionsTotal.WithLabelValues("remove_file")), 0)
	assert.InDelta(t, 16, testutil.ToFloat64(m.bytesCopied), 0)
}

func TestObservePass(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	finished := time.Unix(1_800_000_000, 0)

	m.ObservePass(driver.Pass{
		Started:  finished.Add(-2 * time.Second),
		Finished: finished,
		Stats:    reconciler.Stats{FilesAdded: 3, FilesCompared: 7},
	})
	m.ObservePass(driver.Pass{
		Started:  finished,
		Finished: finished.Add(time.Minute),
		Err:      "boom",
		ErrKind:  "access denied",
	})

	assert.InDelta(t, 1, testutil.ToFloat64(m.passesTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.passesTotal.WithLabelValues("failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.passErrorsTotal.WithLabelValues("access denied")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.filesCompared), 0)
	assert.InDelta(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess), 0)
	assert.InDelta(t, float64(finished.Add(time.Minute).Unix()), testutil.ToFloat64(m.lastPass), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.lastPassActions), 0)
}

func TestNewRegistersEverything(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	New(reg)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)

	assert.Panics(t, func() { New(reg) }, "duplicate registration")
}

func TestServeListener(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Record(journal.Action{Kind: journal.RemoveFile}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, reg) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `replica_actions_total{kind="remove_file"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
