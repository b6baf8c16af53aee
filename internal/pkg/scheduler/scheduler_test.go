package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := New()

	require.NoError(t, s.Register("sweep", "*/5 * * * *", func() {}))
	assert.Error(t, s.Register("sweep", "*/5 * * * *", func() {}), "duplicate name must be rejected")
	assert.Error(t, s.Register("other", "not a cron spec", func() {}))
}

func TestRunNow(t *testing.T) {
	s := New()
	var ran atomic.Int32
	done := make(chan struct{})

	require.NoError(t, s.Register("sweep", "0 0 1 1 *", func() {
		ran.Add(1)
		close(done)
	}))

	require.NoError(t, s.RunNow("sweep"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	assert.EqualValues(t, 1, ran.Load())

	assert.Error(t, s.RunNow("missing"))
}

func TestRunNowRecoversPanics(t *testing.T) {
	s := New()
	done := make(chan struct{})

	require.NoError(t, s.Register("explosive", "0 0 1 1 *", func() {
		defer close(done)
		panic("boom")
	}))

	require.NoError(t, s.RunNow("explosive"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	// Reaching here without the test process dying is the assertion.
}

func TestStatusAndLifecycle(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("a", "10 * * * *", func() {}))
	require.NoError(t, s.Register("b", "25 * * * *", func() {}))

	statuses := s.Status()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Nil(t, st.NextRun, "next run is unset before Start")
		assert.NotEmpty(t, st.Schedule)
	}

	s.Start()
	s.Start() // idempotent

	statuses = s.Status()
	for _, st := range statuses {
		require.NotNil(t, st.NextRun, "running scheduler must report next run for %s", st.Name)
		assert.True(t, st.NextRun.After(time.Now().Add(-time.Second)))
	}

	assert.ElementsMatch(t, []string{"a", "b"}, s.Names())

	s.Stop()
	s.Stop() // idempotent
}
