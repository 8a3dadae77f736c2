package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name string
	runs int
	err  error
}

func (f *fakeJob) Name() string { return f.name }
func (f *fakeJob) Run() error {
	f.runs++
	return f.err
}

func TestAddJob_RejectsInvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a cron expression", &fakeJob{name: "bad"})
	assert.Error(t, err)
}

func TestAddJob_AcceptsValidSixFieldSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("0 */5 * * * *", &fakeJob{name: "good"})
	require.NoError(t, err)
}

func TestRunNow_InvokesJobImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	job := &fakeJob{name: "immediate"}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)
}

func TestRunNow_PropagatesJobError(t *testing.T) {
	s := New(zerolog.Nop())
	job := &fakeJob{name: "failing", err: errors.New("boom")}
	err := s.RunNow(job)
	assert.ErrorIs(t, err, job.err)
}

func TestStartStop_DoesNotBlockWithNoJobs(t *testing.T) {
	s := New(zerolog.Nop())
	s.Start()
	s.Stop()
}
