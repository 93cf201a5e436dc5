package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediremind/internal/domain"
	"mediremind/internal/testutil"
)

type mockStore struct {
	mu sync.Mutex

	job    domain.Job
	jobErr error

	recipients []domain.Recipient
	listErr    error

	recordedStatuses map[uuid.UUID]domain.DeliveryStatus
	setErr           error

	transitions   []string
	transitionErr error
}

func newMockStore() *mockStore {
	return &mockStore{recordedStatuses: make(map[uuid.UUID]domain.DeliveryStatus)}
}

func (m *mockStore) GetJobByID(_ context.Context, _ uuid.UUID) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job, m.jobErr
}

func (m *mockStore) ListRecipients(_ context.Context, _ uuid.UUID) ([]domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recipients, m.listErr
}

func (m *mockStore) SetRecipientStatus(_ context.Context, id uuid.UUID, status domain.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.recordedStatuses[id] = status
	return nil
}

func (m *mockStore) UpdateJobStatus(_ context.Context, _ uuid.UUID, expected, next domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return m.transitionErr
	}
	m.transitions = append(m.transitions, string(expected)+"->"+string(next))
	return nil
}

type mockSender struct {
	mu         sync.Mutex
	sent       []SendRequest
	failPhones map[string]bool
}

func (m *mockSender) Send(_ context.Context, req SendRequest) SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
	if m.failPhones[req.Phone] {
		return SendResult{StatusCode: 502, Duration: time.Millisecond}
	}
	return SendResult{StatusCode: 200, Duration: time.Millisecond}
}

func (m *mockSender) sentPhones() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	phones := make([]string, 0, len(m.sent))
	for _, req := range m.sent {
		phones = append(phones, req.Phone)
	}
	return phones
}

func recipient(jobID uuid.UUID, phone string, status domain.DeliveryStatus) domain.Recipient {
	return domain.Recipient{
		ID:     uuid.New(),
		JobID:  jobID,
		Phone:  phone,
		Status: status,
	}
}

func inProgressJob() domain.Job {
	return domain.Job{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Status:       domain.JobStatusInProgress,
		TemplateName: "appointment_reminder",
		TemplateBody: "Your appointment is tomorrow.",
	}
}

func newTestDispatcher(store Store, sender Sender) *Dispatcher {
	return New(Config{Workers: 1}, store, sender, zerolog.Nop())
}

func TestDispatch_AllRecipientsSent(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	store.recipients = []domain.Recipient{
		recipient(job.ID, "+51911111111", domain.DeliveryStatusPending),
		recipient(job.ID, "+51922222222", domain.DeliveryStatusPending),
		recipient(job.ID, "+51933333333", domain.DeliveryStatusPending),
	}
	sender := &mockSender{}

	d := newTestDispatcher(store, sender)
	report, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: job.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Sent != 3 || report.NotSent != 0 {
		t.Errorf("Sent=%d NotSent=%d, want 3/0", report.Sent, report.NotSent)
	}
	if len(report.Outcomes) != 3 {
		t.Errorf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
	if !report.Finished {
		t.Error("job should be finished")
	}
	for _, r := range store.recipients {
		if store.recordedStatuses[r.ID] != domain.DeliveryStatusSent {
			t.Errorf("recipient %s status = %q, want sent", r.Phone, store.recordedStatuses[r.ID])
		}
	}
	if len(store.transitions) != 1 || store.transitions[0] != "in_progress->finished" {
		t.Errorf("transitions = %v, want one in_progress->finished", store.transitions)
	}
}

func TestDispatch_PartialFailure_DoesNotAbortBatch(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	failing := recipient(job.ID, "+51922222222", domain.DeliveryStatusPending)
	store.recipients = []domain.Recipient{
		recipient(job.ID, "+51911111111", domain.DeliveryStatusPending),
		failing,
		recipient(job.ID, "+51933333333", domain.DeliveryStatusPending),
	}
	sender := &mockSender{failPhones: map[string]bool{failing.Phone: true}}

	d := newTestDispatcher(store, sender)
	report, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: job.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Sent != 2 || report.NotSent != 1 {
		t.Errorf("Sent=%d NotSent=%d, want 2/1", report.Sent, report.NotSent)
	}
	if len(report.Outcomes) != 3 {
		t.Errorf("expected one outcome per recipient, got %d", len(report.Outcomes))
	}
	if store.recordedStatuses[failing.ID] != domain.DeliveryStatusNotSent {
		t.Errorf("failing recipient status = %q, want not_sent", store.recordedStatuses[failing.ID])
	}
	if !report.Finished {
		t.Error("job should still finish after a partial failure")
	}
}

func TestDispatch_EmptyRecipientList_StillFinishes(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	sender := &mockSender{}

	d := newTestDispatcher(store, sender)
	report, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: job.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("expected no sends, got %d", len(sender.sent))
	}
	if !report.Finished {
		t.Error("job with no recipients should still reach finished")
	}
	if len(store.transitions) != 1 {
		t.Errorf("expected one transition, got %v", store.transitions)
	}
}

func TestDispatch_Requeued_SendsOnlyPending(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	alreadySent := recipient(job.ID, "+51911111111", domain.DeliveryStatusSent)
	alreadyFailed := recipient(job.ID, "+51922222222", domain.DeliveryStatusNotSent)
	stillPending := recipient(job.ID, "+51933333333", domain.DeliveryStatusPending)
	store.recipients = []domain.Recipient{alreadySent, alreadyFailed, stillPending}
	sender := &mockSender{}

	d := newTestDispatcher(store, sender)
	report, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: job.ID, Requeued: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	phones := sender.sentPhones()
	if len(phones) != 1 || phones[0] != stillPending.Phone {
		t.Errorf("sent to %v, want only %s", phones, stillPending.Phone)
	}
	// Prior outcomes are carried into the report, not re-decided.
	if report.Sent != 2 || report.NotSent != 1 {
		t.Errorf("Sent=%d NotSent=%d, want 2/1", report.Sent, report.NotSent)
	}
	if len(report.Outcomes) != 3 {
		t.Errorf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
}

func TestDispatch_JobAlreadyFinished_Skips(t *testing.T) {
	job := inProgressJob()
	job.Status = domain.JobStatusFinished
	store := newMockStore()
	store.job = job
	store.recipients = []domain.Recipient{recipient(job.ID, "+51911111111", domain.DeliveryStatusPending)}
	sender := &mockSender{}

	d := newTestDispatcher(store, sender)
	report, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: job.ID, Requeued: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("expected no sends for finished job, got %d", len(sender.sent))
	}
	if !report.Finished {
		t.Error("report should reflect the finished job")
	}
	if len(store.transitions) != 0 {
		t.Errorf("expected no transition attempts, got %v", store.transitions)
	}
}

func TestDispatch_FinishConflict_Benign(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	store.recipients = []domain.Recipient{recipient(job.ID, "+51911111111", domain.DeliveryStatusPending)}
	store.transitionErr = domain.ErrStatusConflict
	sender := &mockSender{}

	d := newTestDispatcher(store, sender)
	report, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: job.ID})
	if err != nil {
		t.Fatalf("conflict on finish should not be an error, got %v", err)
	}
	if !report.Finished {
		t.Error("conflicting finish means the job is already finished")
	}
}

func TestDispatch_GetJobError_Propagates(t *testing.T) {
	store := newMockStore()
	store.jobErr = errors.New("connection refused")
	sender := &mockSender{}

	d := newTestDispatcher(store, sender)
	_, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: uuid.New()})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestDispatch_LedgerWriteConflict_DoesNotAbort(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	store.recipients = []domain.Recipient{recipient(job.ID, "+51911111111", domain.DeliveryStatusPending)}
	store.setErr = domain.ErrRecipientDecided
	sender := &mockSender{}

	d := newTestDispatcher(store, sender)
	report, err := d.Dispatch(testutil.TestContext(t), domain.DispatchTask{JobID: job.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("Sent=%d, want 1", report.Sent)
	}
	if !report.Finished {
		t.Error("job should still finish")
	}
}

func TestRun_ConsumesTasksUntilCancelled(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	store.recipients = []domain.Recipient{recipient(job.ID, "+51911111111", domain.DeliveryStatusPending)}
	sender := &mockSender{}

	d := New(Config{Workers: 2}, store, sender, zerolog.Nop())

	ch := make(chan domain.DispatchTask, 4)
	ch <- domain.DispatchTask{JobID: job.ID}
	ch <- domain.DispatchTask{JobID: job.ID}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, ch)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for tasks to be consumed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_DrainsBufferedTasksOnShutdown(t *testing.T) {
	job := inProgressJob()
	store := newMockStore()
	store.job = job
	store.recipients = []domain.Recipient{recipient(job.ID, "+51911111111", domain.DeliveryStatusPending)}
	sender := &mockSender{}

	d := New(Config{Workers: 1}, store, sender, zerolog.Nop()).
		WithDrainTimeout(time.Second)

	ch := make(chan domain.DispatchTask, 4)
	ch <- domain.DispatchTask{JobID: job.ID}
	ch <- domain.DispatchTask{JobID: job.ID}
	ch <- domain.DispatchTask{JobID: job.ID}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: everything goes through the drain path

	d.Run(ctx, ch)

	if len(sender.sent) != 3 {
		t.Errorf("expected 3 drained sends, got %d", len(sender.sent))
	}
}
