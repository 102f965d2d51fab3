package river_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	goriver "github.com/riverqueue/river"

	_ "modernc.org/sqlite"

	riveradapter "github.com/neomorfeo/propgate/internal/adapter/river"
	"github.com/neomorfeo/propgate/internal/adapter/sqlite"
	"github.com/neomorfeo/propgate/internal/domain"
	"github.com/neomorfeo/propgate/internal/event"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := t.TempDir() + "/river_test.db"
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("setting WAL: %v", err)
	}

	return db
}

type starterMock struct {
	mu       sync.Mutex
	started  []string
	startErr error
}

func (m *starterMock) Start(_ context.Context, snapshot domain.ListingSnapshot) (domain.PropertyApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return domain.PropertyApproval{}, m.startErr
	}
	m.started = append(m.started, snapshot.PropertyID)
	return domain.NewPropertyApproval(snapshot.PropertyID), nil
}

func (m *starterMock) startedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

type upserterMock struct {
	mu      sync.Mutex
	records []domain.ContractStatusRecord
}

func (m *upserterMock) Upsert(_ context.Context, record domain.ContractStatusRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return true, nil
}

type lettersMock struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
}

func (m *lettersMock) Add(_ context.Context, letter domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, letter)
	return nil
}

func (m *lettersMock) List(_ context.Context, _ int) ([]domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DeadLetter(nil), m.letters...), nil
}

type delivererMock struct {
	mu        sync.Mutex
	delivered []event.Envelope
}

func (m *delivererMock) Deliver(_ context.Context, env event.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, env)
	return nil
}

func (m *delivererMock) envelopes() []event.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Envelope(nil), m.delivered...)
}

type fixture struct {
	db        *sql.DB
	client    *riveradapter.Client
	starter   *starterMock
	upserter  *upserterMock
	letters   *lettersMock
	deliverer *delivererMock
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		starter:   &starterMock{},
		upserter:  &upserterMock{},
		letters:   &lettersMock{},
		deliverer: &delivererMock{},
	}

	f.db = setupTestDB(t)
	client, err := riveradapter.Setup(context.Background(), f.db, f.starter, f.upserter, f.letters, f.deliverer)
	if err != nil {
		t.Fatalf("river setup: %v", err)
	}
	f.client = client
	return f
}

// contentCheckApproval creates an approval row pinned at CONTENT_CHECK, the
// state from which an outbox finalization normally happens.
func contentCheckApproval(t *testing.T, repo *sqlite.ApprovalRepository) domain.PropertyApproval {
	t.Helper()
	ctx := context.Background()

	approval := domain.NewPropertyApproval("usa/anytown/main-street/111")
	if err := repo.Create(ctx, approval); err != nil {
		t.Fatalf("creating approval: %v", err)
	}
	approval.Status = domain.StatusContentCheck
	if err := repo.Update(ctx, approval); err != nil {
		t.Fatalf("updating approval: %v", err)
	}
	return approval
}

func startClient(t *testing.T, client *riveradapter.Client) {
	t.Helper()
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("river start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			t.Errorf("river stop: %v", err)
		}
	})
}

func approvalEnvelope(t *testing.T) json.RawMessage {
	t.Helper()
	env, err := event.New(event.SourceWeb, event.TypeApprovalRequested, event.PublicationApprovalRequested{
		PropertyID: "usa/anytown/main-street/111",
		Address: event.Address{
			Country: "USA",
			City:    "Anytown",
			Street:  "Main Street",
			Number:  111,
		},
		Description: "A lovely family home.",
		Images:      []string{"prop1_exterior.jpg"},
		Status:      "PENDING",
	})
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshaling envelope: %v", err)
	}
	return raw
}

func TestApprovalRequestedWorker_StartsInstance(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	subscribeChan, subscribeCancel := f.client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()
	startClient(t, f.client)

	if _, err := f.client.Insert(ctx, riveradapter.ApprovalRequestedArgs{Envelope: approvalEnvelope(t)}, nil); err != nil {
		t.Fatalf("inserting job: %v", err)
	}

	select {
	case ev := <-subscribeChan:
		if ev.Job.Kind != "approval.requested" {
			t.Errorf("job kind = %q, want approval.requested", ev.Job.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	started := f.starter.startedIDs()
	if len(started) != 1 || started[0] != "usa/anytown/main-street/111" {
		t.Errorf("started = %v, want the requested property", started)
	}
}

func TestApprovalRequestedWorker_DeadLettersMalformedEnvelope(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	subscribeChan, subscribeCancel := f.client.Subscribe(goriver.EventKindJobCancelled)
	defer subscribeCancel()
	startClient(t, f.client)

	raw := json.RawMessage(`{"id":"x","source":"propgate.web","detail-type":"PublicationApprovalRequested","detail":{"property_id":"NOT VALID"}}`)
	if _, err := f.client.Insert(ctx, riveradapter.ApprovalRequestedArgs{Envelope: raw}, nil); err != nil {
		t.Fatalf("inserting job: %v", err)
	}

	select {
	case <-subscribeChan:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job cancellation")
	}

	letters, err := f.letters.List(ctx, 10)
	if err != nil {
		t.Fatalf("listing dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if len(f.starter.startedIDs()) != 0 {
		t.Error("malformed envelope reached the orchestrator")
	}
}

func TestContractStatusChangedWorker_UpsertsRecord(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	subscribeChan, subscribeCancel := f.client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()
	startClient(t, f.client)

	env, err := event.New(event.SourceContracts, event.TypeContractStatusChanged, event.ContractStatusChanged{
		PropertyID:             "usa/anytown/main-street/111",
		ContractID:             "f2bedc80",
		ContractStatus:         "APPROVED",
		ContractLastModifiedOn: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshaling envelope: %v", err)
	}

	if _, err := f.client.Insert(ctx, riveradapter.ContractStatusChangedArgs{Envelope: raw}, nil); err != nil {
		t.Fatalf("inserting job: %v", err)
	}

	select {
	case <-subscribeChan:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	f.upserter.mu.Lock()
	defer f.upserter.mu.Unlock()
	if len(f.upserter.records) != 1 {
		t.Fatalf("upserted %d records, want 1", len(f.upserter.records))
	}
	if f.upserter.records[0].ContractStatus != domain.ContractApproved {
		t.Errorf("status = %q, want APPROVED", f.upserter.records[0].ContractStatus)
	}
}

func TestOutbox_FinalizeDeliversOutcomeToBus(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo, err := sqlite.NewApprovalRepository(f.db)
	if err != nil {
		t.Fatalf("creating approval repository: %v", err)
	}
	approval := contentCheckApproval(t, repo)

	subscribeChan, subscribeCancel := f.client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()
	startClient(t, f.client)

	box := riveradapter.NewOutbox(f.db, f.client, repo)
	approval.Status = domain.StatusApproved
	if err := box.Finalize(ctx, approval); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	stored, err := repo.Get(ctx, approval.PropertyID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Status != domain.StatusApproved {
		t.Errorf("stored status = %q, want APPROVED", stored.Status)
	}

	select {
	case ev := <-subscribeChan:
		if ev.Job.Kind != "publication.completed" {
			t.Errorf("job kind = %q, want publication.completed", ev.Job.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	envelopes := f.deliverer.envelopes()
	if len(envelopes) != 1 {
		t.Fatalf("delivered %d envelopes, want 1", len(envelopes))
	}
	env := envelopes[0]
	if env.DetailType != event.TypeEvaluationCompleted {
		t.Errorf("detail type = %q, want %q", env.DetailType, event.TypeEvaluationCompleted)
	}
	var payload event.PublicationEvaluationCompleted
	if err := json.Unmarshal(env.Detail, &payload); err != nil {
		t.Fatalf("unmarshaling detail: %v", err)
	}
	if payload.EvaluationResult != "APPROVED" {
		t.Errorf("evaluation result = %q, want APPROVED", payload.EvaluationResult)
	}
}

func TestOutbox_FinalizeRefusedUpdateStagesNoJob(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	repo, err := sqlite.NewApprovalRepository(f.db)
	if err != nil {
		t.Fatalf("creating approval repository: %v", err)
	}
	approval := contentCheckApproval(t, repo)

	box := riveradapter.NewOutbox(f.db, f.client, repo)
	approval.Status = domain.StatusApproved
	if err := box.Finalize(ctx, approval); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	// The row is terminal now; a second finalization must fail and roll the
	// whole transaction back, leaving no second completion job behind.
	if err := box.Finalize(ctx, approval); err == nil {
		t.Fatal("Finalize() error = nil, want terminal refusal")
	}

	var jobs int
	if err := f.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM river_job WHERE kind = 'publication.completed'`,
	).Scan(&jobs); err != nil {
		t.Fatalf("counting jobs: %v", err)
	}
	if jobs != 1 {
		t.Errorf("staged %d completion jobs, want 1", jobs)
	}
}
