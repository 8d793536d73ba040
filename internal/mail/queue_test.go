// queue_test.go
//
// Unit tests for QueuedMailer enqueue and dispatch logic.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// mockInner records the most recent call for assertion.
type mockInner struct {
	lastType      string
	lastToEmail   string
	lastTempKeyID string
	err           error
}

func (m *mockInner) SendActivationEmail(_ context.Context, toEmail, tempKeyID string) error {
	m.lastType = jobActivation
	m.lastToEmail = toEmail
	m.lastTempKeyID = tempKeyID
	return m.err
}

func (m *mockInner) SendResetPasswordEmail(_ context.Context, toEmail, tempKeyID string) error {
	m.lastType = jobResetPassword
	m.lastToEmail = toEmail
	m.lastTempKeyID = tempKeyID
	return m.err
}

func newTestQueue(t *testing.T, inner Mailer, maxSize int64) (*QueuedMailer, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewQueuedMailer(inner, rdb, maxSize), rdb
}

func TestQueuedMailer_Enqueue_PushesJob(t *testing.T) {
	q, rdb := newTestQueue(t, &mockInner{}, 0)
	ctx := context.Background()

	if err := q.SendActivationEmail(ctx, "new@example.com", "key-123"); err != nil {
		t.Fatalf("SendActivationEmail: %v", err)
	}

	raw, err := rdb.LPop(ctx, QueueKey).Result()
	if err != nil {
		t.Fatalf("LPop: %v", err)
	}
	var job EmailJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Type != jobActivation {
		t.Errorf("type: got %q, want %q", job.Type, jobActivation)
	}
	if job.ToEmail != "new@example.com" {
		t.Errorf("toEmail: got %q, want %q", job.ToEmail, "new@example.com")
	}
	if job.TempKeyID != "key-123" {
		t.Errorf("tempKeyID: got %q, want %q", job.TempKeyID, "key-123")
	}
}

func TestQueuedMailer_Enqueue_QueueFull(t *testing.T) {
	q, _ := newTestQueue(t, &mockInner{}, 2)
	ctx := context.Background()

	if err := q.SendResetPasswordEmail(ctx, "a@example.com", "k1"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.SendResetPasswordEmail(ctx, "b@example.com", "k2"); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	err := q.SendResetPasswordEmail(ctx, "c@example.com", "k3")
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("third enqueue: got %v, want ErrQueueFull", err)
	}
}

func TestQueuedMailer_Dispatch_Activation(t *testing.T) {
	inner := &mockInner{}
	q := &QueuedMailer{inner: inner}

	q.dispatch(context.Background(), EmailJob{
		Type:      jobActivation,
		ToEmail:   "activate@example.com",
		TempKeyID: "key-act",
	})

	if inner.lastType != jobActivation {
		t.Errorf("type: got %q, want %q", inner.lastType, jobActivation)
	}
	if inner.lastToEmail != "activate@example.com" {
		t.Errorf("toEmail: got %q, want %q", inner.lastToEmail, "activate@example.com")
	}
	if inner.lastTempKeyID != "key-act" {
		t.Errorf("tempKeyID: got %q, want %q", inner.lastTempKeyID, "key-act")
	}
}

func TestQueuedMailer_Dispatch_ResetPassword(t *testing.T) {
	inner := &mockInner{}
	q := &QueuedMailer{inner: inner}

	q.dispatch(context.Background(), EmailJob{
		Type:      jobResetPassword,
		ToEmail:   "reset@example.com",
		TempKeyID: "key-reset",
	})

	if inner.lastType != jobResetPassword {
		t.Errorf("type: got %q, want %q", inner.lastType, jobResetPassword)
	}
	if inner.lastTempKeyID != "key-reset" {
		t.Errorf("tempKeyID: got %q, want %q", inner.lastTempKeyID, "key-reset")
	}
}

func TestQueuedMailer_Dispatch_UnknownType(t *testing.T) {
	inner := &mockInner{}
	q := &QueuedMailer{inner: inner}

	// Should not panic or call inner; just log and return.
	q.dispatch(context.Background(), EmailJob{Type: "bogus_type"})

	if inner.lastType != "" {
		t.Error("dispatch should not call inner for unknown job type")
	}
}

func TestQueuedMailer_Dispatch_SendError_DoesNotPanic(t *testing.T) {
	inner := &mockInner{err: errors.New("smtp timeout")}
	q := &QueuedMailer{inner: inner}

	// dispatch logs the error and returns -- must not panic or propagate.
	q.dispatch(context.Background(), EmailJob{
		Type:      jobActivation,
		ToEmail:   "err@example.com",
		TempKeyID: "k",
	})
}

func TestErrQueueFull_Sentinel(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrQueueFull)
	if !errors.Is(wrapped, ErrQueueFull) {
		t.Error("errors.Is: wrapped ErrQueueFull not detected")
	}
}
