package cleanup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClearer struct {
	calls int
	err   error
}

func (m *mockClearer) ClearCompleted(context.Context) (int, error) {
	m.calls++
	return 2, m.err
}

type mockPruner struct{ calls int }

func (m *mockPruner) Prune() int {
	m.calls++
	return 0
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New("every tuesday", &mockClearer{}, nil, nil)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	jobs := &mockClearer{}
	limiter := &mockPruner{}
	j, err := New("@every 1h", jobs, limiter, nil)
	require.NoError(t, err)

	j.Run(context.Background())
	assert.Equal(t, 1, jobs.calls)
	assert.Equal(t, 1, limiter.calls)

	jobs.err = errors.New("redis down")
	j.Run(context.Background())
	assert.Equal(t, 2, limiter.calls)

	j.Start()
	j.Stop()
}
