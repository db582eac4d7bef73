// Package async buffers outbound email so request handlers never wait on SMTP.
package async

import (
	"context"
	"sync"

	"github.com/veo3pk/studio/internal/notifier"
)

// DefaultCapacity bounds the backlog when the mail server is unreachable.
const DefaultCapacity = 1000

// EmailQueue is a bounded FIFO drained by the email sender job. It also
// satisfies notifier.Service, so services can hand it to anything that sends
// mail. When full, the oldest message is dropped.
type EmailQueue struct {
	mu       sync.Mutex
	pending  []notifier.EmailRequest
	capacity int
	dropped  int
}

// NewEmailQueue returns a queue holding at most capacity messages;
// capacity <= 0 selects DefaultCapacity.
func NewEmailQueue(capacity int) *EmailQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EmailQueue{capacity: capacity}
}

func (q *EmailQueue) SendEmail(_ context.Context, req notifier.EmailRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, req)
	q.trimLocked()
	return nil
}

// DrainEmails returns all pending emails and clears the buffer.
func (q *EmailQueue) DrainEmails() []notifier.EmailRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// RequeueEmails puts undelivered emails back ahead of anything queued since.
func (q *EmailQueue) RequeueEmails(reqs []notifier.EmailRequest) {
	if len(reqs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(append(make([]notifier.EmailRequest, 0, len(reqs)+len(q.pending)), reqs...), q.pending...)
	q.trimLocked()
}

func (q *EmailQueue) trimLocked() {
	if over := len(q.pending) - q.capacity; over > 0 {
		q.pending = q.pending[over:]
		q.dropped += over
	}
}

func (q *EmailQueue) PendingEmails() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DroppedEmails counts messages discarded because the queue was full.
func (q *EmailQueue) DroppedEmails() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
