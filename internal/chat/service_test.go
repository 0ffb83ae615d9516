package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/tokens"
)

type fakeConfig struct {
	site     models.SiteConfig
	instance *models.Instance
}

func (f *fakeConfig) GetSiteConfig(ctx context.Context) (*models.SiteConfig, error) {
	site := f.site
	return &site, nil
}

func (f *fakeConfig) GetInstance(ctx context.Context, id int64) (*models.Instance, error) {
	if f.instance == nil || f.instance.ID != id {
		return nil, ErrInstanceNotFound
	}
	return f.instance, nil
}

type fakeTurns struct {
	inserted  []models.ConversationTurn
	insertErr error
}

func (f *fakeTurns) InsertTurn(ctx context.Context, turn *models.ConversationTurn) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	turn.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, *turn)
	return nil
}

func (f *fakeTurns) ListTurns(ctx context.Context, instanceID, userID int64, limit int) ([]models.ConversationTurn, error) {
	var turns []models.ConversationTurn
	for _, turn := range f.inserted {
		if turn.InstanceID == instanceID && turn.UserID == userID {
			turns = append(turns, turn)
		}
	}
	return turns, nil
}

type fakeLedger struct {
	status    tokens.LimitStatus
	commits   []int
	commitErr error
}

func (f *fakeLedger) Check(ctx context.Context, cfg tokens.LimitConfig, userID int64, now time.Time) (tokens.LimitStatus, error) {
	if !cfg.Enabled {
		return tokens.LimitStatus{Allowed: true}, nil
	}
	return f.status, nil
}

func (f *fakeLedger) Commit(ctx context.Context, cfg tokens.LimitConfig, userID int64, count int, now time.Time) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, count)
	return nil
}

type fakeEngine struct {
	result   *Result
	err      error
	requests []Request
}

func (f *fakeEngine) CreateCompletion(ctx context.Context, req Request) (*Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRecorder struct {
	records []models.AgentUsage
}

func (f *fakeRecorder) Record(ctx context.Context, rec models.AgentUsage) error {
	f.records = append(f.records, rec)
	return nil
}

func serviceFixture(engine *fakeEngine) (*Service, *fakeTurns, *fakeLedger, *fakeRecorder) {
	config := &fakeConfig{
		site: models.SiteConfig{
			APIKey:           "sk-site",
			Mode:             "chat",
			Model:            "gpt-4o-mini",
			Logging:          true,
			EnableTokenLimit: true,
			MaxTokensPerUser: 1000,
			TokenLimitPeriod: "day",
		},
		instance: &models.Instance{ID: 7},
	}
	turns := &fakeTurns{}
	ledger := &fakeLedger{status: tokens.LimitStatus{Allowed: true, Used: 0, Limit: 1000}}
	recorder := &fakeRecorder{}
	service := NewService(config, turns, ledger, engine, recorder, nil)
	service.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return service, turns, ledger, recorder
}

var testUser = auth.User{ID: 42, Name: "Alice"}

func TestCompleteLogsTurnAndChargesLedger(t *testing.T) {
	engine := &fakeEngine{result: &Result{
		Message: "Paris.",
		Usage:   &tokens.Usage{Prompt: 12, Completion: 3, Total: 15},
	}}
	service, turns, ledger, recorder := serviceFixture(engine)

	result, err := service.Complete(context.Background(), testUser, CompletionRequest{
		InstanceID: 7,
		Message:    "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if result.Message != "Paris." {
		t.Fatalf("unexpected message %q", result.Message)
	}

	if len(turns.inserted) != 1 {
		t.Fatalf("expected one logged turn, got %d", len(turns.inserted))
	}
	turn := turns.inserted[0]
	if turn.UserMessage != "What is the capital of France?" || turn.AIResponse != "Paris." {
		t.Fatalf("turn content mismatch: %+v", turn)
	}
	if turn.PromptTokens == nil || *turn.PromptTokens != 12 || *turn.CompletionTokens != 3 || *turn.TotalTokens != 15 {
		t.Fatalf("turn token columns mismatch: %+v", turn)
	}

	if len(ledger.commits) != 1 || ledger.commits[0] != 15 {
		t.Fatalf("expected exactly one commit of 15, got %v", ledger.commits)
	}
	if len(recorder.records) != 1 {
		t.Fatalf("expected one usage record, got %d", len(recorder.records))
	}
	if recorder.records[0].AgentID != "gpt-4o-mini" || recorder.records[0].TotalTokens != 15 {
		t.Fatalf("usage record mismatch: %+v", recorder.records[0])
	}
}

func TestCompleteProviderErrorChargesNothing(t *testing.T) {
	engine := &fakeEngine{err: &Error{Kind: KindProvider, Detail: "Incorrect API key provided"}}
	service, turns, ledger, _ := serviceFixture(engine)

	_, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 7, Message: "hi"})
	kind, ok := KindOf(err)
	if !ok || kind != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(turns.inserted) != 0 {
		t.Fatalf("failed completions must not be logged, got %d turns", len(turns.inserted))
	}
	if len(ledger.commits) != 0 {
		t.Fatalf("failed completions must not be charged, got %v", ledger.commits)
	}
}

func TestCompleteBlockedWhenLimitReached(t *testing.T) {
	engine := &fakeEngine{result: &Result{Message: "never"}}
	service, _, ledger, _ := serviceFixture(engine)
	ledger.status = tokens.LimitStatus{Allowed: false, Used: 1000, Limit: 1000}

	_, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 7, Message: "hi"})
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected limit error, got %v", err)
	}
	if limitErr.Status.Used != 1000 {
		t.Fatalf("limit error must carry the status: %+v", limitErr.Status)
	}
	if len(engine.requests) != 0 {
		t.Fatalf("the provider must not be called when the budget is exhausted")
	}
}

func TestCompleteNoUsageSkipsChargeButLogsTurn(t *testing.T) {
	engine := &fakeEngine{result: &Result{Message: "ok"}}
	service, turns, ledger, recorder := serviceFixture(engine)

	if _, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 7, Message: "hi"}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if len(turns.inserted) != 1 {
		t.Fatalf("the turn must be logged even without usage")
	}
	if turns.inserted[0].TotalTokens != nil {
		t.Fatalf("absent usage must stay null, got %v", *turns.inserted[0].TotalTokens)
	}
	if len(ledger.commits) != 0 || len(recorder.records) != 0 {
		t.Fatalf("no usage means no charge and no telemetry")
	}
}

func TestCompleteLoggingDisabled(t *testing.T) {
	engine := &fakeEngine{result: &Result{
		Message: "ok",
		Usage:   &tokens.Usage{Prompt: 1, Completion: 1, Total: 2},
	}}
	service, turns, ledger, _ := serviceFixture(engine)
	service.Config.(*fakeConfig).site.Logging = false

	result, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 7, Message: "hi"})
	if err != nil || result.Message != "ok" {
		t.Fatalf("completion must succeed with logging off: %v", err)
	}
	if len(turns.inserted) != 0 || len(ledger.commits) != 0 {
		t.Fatalf("logging off must suppress all bookkeeping")
	}
}

func TestCompleteLedgerFailureDoesNotFailRequest(t *testing.T) {
	engine := &fakeEngine{result: &Result{
		Message: "ok",
		Usage:   &tokens.Usage{Prompt: 1, Completion: 1, Total: 2},
	}}
	service, turns, ledger, _ := serviceFixture(engine)
	ledger.commitErr = errors.New("connection reset")

	result, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 7, Message: "hi"})
	if err != nil || result.Message != "ok" {
		t.Fatalf("a bookkeeping failure must not surface: %v", err)
	}
	if len(turns.inserted) != 1 {
		t.Fatalf("the turn insert precedes the ledger and must stand")
	}
}

func TestCompleteTurnInsertFailureSkipsCharge(t *testing.T) {
	engine := &fakeEngine{result: &Result{
		Message: "ok",
		Usage:   &tokens.Usage{Prompt: 1, Completion: 1, Total: 2},
	}}
	service, turns, ledger, recorder := serviceFixture(engine)
	turns.insertErr = errors.New("disk full")

	result, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 7, Message: "hi"})
	if err != nil || result.Message != "ok" {
		t.Fatalf("a bookkeeping failure must not surface: %v", err)
	}
	if len(ledger.commits) != 0 || len(recorder.records) != 0 {
		t.Fatalf("the turn is the record of truth; without it nothing else is written")
	}
}

func TestCompleteAssistantModeRecordsAssistantID(t *testing.T) {
	engine := &fakeEngine{result: &Result{
		Message:  "done",
		ThreadID: "thread_1",
		Usage:    &tokens.Usage{Prompt: 4, Completion: 4, Total: 8},
	}}
	service, _, _, recorder := serviceFixture(engine)
	site := &service.Config.(*fakeConfig).site
	site.Mode = "assistant"
	site.AssistantID = "asst_123"

	if _, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 7, Message: "hi"}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if len(recorder.records) != 1 || recorder.records[0].AgentID != "asst_123" {
		t.Fatalf("assistant mode must attribute usage to the assistant id: %+v", recorder.records)
	}
}

func TestCompleteGuestBlockedWhenUsageRestricted(t *testing.T) {
	engine := &fakeEngine{result: &Result{Message: "never"}}
	service, _, _, _ := serviceFixture(engine)
	service.Config.(*fakeConfig).site.RestrictUsage = true

	_, err := service.Complete(context.Background(), auth.User{ID: 0, Name: "Guest"}, CompletionRequest{InstanceID: 7, Message: "hi"})
	if !errors.Is(err, ErrGuestNotAllowed) {
		t.Fatalf("expected guest rejection, got %v", err)
	}
	if len(engine.requests) != 0 {
		t.Fatalf("the provider must not be called for rejected guests")
	}
}

func TestCompleteUnknownInstance(t *testing.T) {
	engine := &fakeEngine{result: &Result{Message: "never"}}
	service, _, _, _ := serviceFixture(engine)

	_, err := service.Complete(context.Background(), testUser, CompletionRequest{InstanceID: 99, Message: "hi"})
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected instance not found, got %v", err)
	}
}

func TestLimitReportsWithoutCharging(t *testing.T) {
	engine := &fakeEngine{}
	service, _, ledger, _ := serviceFixture(engine)
	ledger.status = tokens.LimitStatus{Allowed: true, Used: 250, Limit: 1000}

	status, err := service.Limit(context.Background(), testUser)
	if err != nil {
		t.Fatalf("limit failed: %v", err)
	}
	if status.Used != 250 || status.Limit != 1000 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(ledger.commits) != 0 {
		t.Fatalf("a limit read must not charge anything")
	}
}
