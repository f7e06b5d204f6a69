package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/progress"
)

type fakeBackend struct {
	startCalls    atomic.Int32
	cancelCalls   atomic.Int32
	progressCalls atomic.Int32

	startErr error
	jobIDs   []string

	// startEntered, when set, is closed once StartVerification is called;
	// the call then blocks until startGate is closed.
	startEntered chan struct{}
	startGate    chan struct{}

	// cancelGate, when set, blocks CancelVerification until closed.
	cancelGate chan struct{}
	cancelErr  error

	progressErr error
	results     map[string]model.VerificationResult

	mu        sync.Mutex
	cancelled []string
}

func (b *fakeBackend) StartVerification(ctx context.Context, req *model.RunMatrixRequest) (model.JobHandle, error) {
	n := b.startCalls.Add(1)
	if b.startEntered != nil {
		close(b.startEntered)
		<-b.startGate
	}
	if b.startErr != nil {
		return model.JobHandle{}, b.startErr
	}
	id := "job-1"
	if int(n) <= len(b.jobIDs) {
		id = b.jobIDs[n-1]
	}
	return model.JobHandle{JobID: id, SubmittedAt: time.Now()}, nil
}

func (b *fakeBackend) CancelVerification(ctx context.Context, jobID string) error {
	b.cancelCalls.Add(1)
	b.mu.Lock()
	b.cancelled = append(b.cancelled, jobID)
	b.mu.Unlock()
	if b.cancelGate != nil {
		select {
		case <-b.cancelGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.cancelErr
}

func (b *fakeBackend) cancelledJobs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

func (b *fakeBackend) GetProgress(ctx context.Context, jobID string) (*model.ProgressResponse, error) {
	b.progressCalls.Add(1)
	if b.progressErr != nil {
		return nil, b.progressErr
	}
	return &model.ProgressResponse{JobID: jobID, Status: model.StatusCompleted, Percentage: 100, Results: b.results}, nil
}

// fakeStream replays scripted events. When end is set the stream closes after
// the script with that error; otherwise it stays open until Close.
type fakeStream struct {
	events chan progress.Event
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	err    error
	health progress.Health
}

func newFakeStream(script []progress.Event, end error) *fakeStream {
	s := &fakeStream{
		events: make(chan progress.Event, len(script)),
		closed: make(chan struct{}),
		health: progress.HealthOpen,
	}
	for _, ev := range script {
		s.events <- ev
	}
	if end != nil {
		s.err = end
		s.health = progress.HealthDisconnected
		close(s.events)
	}
	return s
}

func (s *fakeStream) Events() <-chan progress.Event { return s.events }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Health() progress.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		if s.err == nil {
			s.health = progress.HealthClosed
		}
		s.mu.Unlock()
		close(s.closed)
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeSubscriber hands out streams in order; once exhausted it fails to dial.
type fakeSubscriber struct {
	mu      sync.Mutex
	streams []*fakeStream
	dials   int
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, jobID string) (progress.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if len(f.streams) == 0 {
		return nil, errors.New("dial tcp: connection refused")
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *fakeSubscriber) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeSubscriber) push(s *fakeStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, s)
}
