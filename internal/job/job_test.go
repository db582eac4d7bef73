package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/notifier"
	"github.com/veo3pk/studio/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestSchedulerRegisterAndRunNow(t *testing.T) {
	s := NewScheduler(quietLogger())
	b := &countingJob{name: "b.job"}
	a := &countingJob{name: "a.job", err: errors.New("boom")}

	_, err := s.Register("@every 1h", b)
	require.NoError(t, err)
	_, err = s.Register("@every 1h", a)
	require.NoError(t, err)
	_, err = s.Register("@every 1h", &countingJob{name: "a.job"})
	require.Error(t, err)
	_, err = s.Register("not a spec", &countingJob{name: "c.job"})
	require.Error(t, err)
	_, err = s.Register("", &countingJob{name: "d.job"})
	require.Error(t, err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a.job", entries[0].Name)
	assert.Equal(t, "@every 1h", entries[1].Spec)

	require.NoError(t, s.RunNow(context.Background(), "b.job"))
	assert.EqualValues(t, 1, b.runs.Load())
	require.EqualError(t, s.RunNow(context.Background(), "a.job"), "boom")
	require.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	s := NewScheduler(quietLogger())
	j := &countingJob{name: "tick"}
	_, err := s.Register("@every 1s", j)
	require.NoError(t, err)

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return j.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
	<-s.Stop().Done()
}

type fakeQueue struct {
	pending  []notifier.EmailRequest
	requeued []notifier.EmailRequest
}

func (q *fakeQueue) DrainEmails() []notifier.EmailRequest {
	out := q.pending
	q.pending = nil
	return out
}

func (q *fakeQueue) RequeueEmails(reqs []notifier.EmailRequest) {
	q.requeued = append(q.requeued, reqs...)
}

type scriptedNotifier struct {
	fail map[string]error
	sent []string
}

func (n *scriptedNotifier) SendEmail(_ context.Context, req notifier.EmailRequest) error {
	if err, ok := n.fail[req.To]; ok {
		return err
	}
	n.sent = append(n.sent, req.To)
	return nil
}

func TestSendEmailJobRequeuesAfterFailure(t *testing.T) {
	queue := &fakeQueue{pending: []notifier.EmailRequest{{To: "a@x.pk"}, {To: "skip@x.pk"}, {To: "down@x.pk"}, {To: "c@x.pk"}}}
	svc := &scriptedNotifier{fail: map[string]error{
		"skip@x.pk": notifier.ErrNoTransport,
		"down@x.pk": errors.New("smtp: connection refused"),
	}}
	job := NewSendEmailJob(queue, svc, quietLogger())

	require.Error(t, job.Run(context.Background()))
	assert.Equal(t, []string{"a@x.pk"}, svc.sent)
	require.Len(t, queue.requeued, 2)
	assert.Equal(t, "down@x.pk", queue.requeued[0].To)
	assert.Equal(t, "c@x.pk", queue.requeued[1].To)

	require.NoError(t, job.Run(context.Background()))
	require.Error(t, (&SendEmailJob{}).Run(context.Background()))
}

type fakeGeneration struct {
	polled, retried int
	err             error
}

func (g *fakeGeneration) PollDue(context.Context) (int, error)     { return g.polled, g.err }
func (g *fakeGeneration) RetryFailed(context.Context) (int, error) { return g.retried, g.err }

type fakePlans struct{ expired int64 }

func (p *fakePlans) ExpireDue(context.Context) (int64, error) { return p.expired, nil }

type fakePools struct{ calls int }

func (p *fakePools) Stats(context.Context) ([]repository.PoolStats, error) {
	p.calls++
	return []repository.PoolStats{{Pool: "video", Total: 2}, {Pool: "image"}}, nil
}

func TestRegisterDefaultsWiresPresentDeps(t *testing.T) {
	s := NewScheduler(quietLogger())
	gen := &fakeGeneration{polled: 2, retried: 1}
	pools := &fakePools{}
	require.NoError(t, RegisterDefaults(s, Deps{
		Poller:  gen,
		Retrier: gen,
		Plans:   &fakePlans{expired: 3},
		Pools:   pools,
		Logger:  quietLogger(),
	}))

	var names []string
	for _, e := range s.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"generation.poll", "generation.retry", "plan.expiry", "token.pool.gauge"}, names)

	for _, name := range names {
		require.NoError(t, s.RunNow(context.Background(), name))
	}
	assert.Equal(t, 1, pools.calls)

	gen.err = errors.New("db locked")
	require.ErrorContains(t, s.RunNow(context.Background(), "generation.poll"), "db locked")
	require.ErrorContains(t, s.RunNow(context.Background(), "generation.retry"), "db locked")
}
