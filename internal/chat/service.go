package chat

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/tokens"
)

// ConfigStore provides the resolved-from configuration rows.
type ConfigStore interface {
	GetSiteConfig(ctx context.Context) (*models.SiteConfig, error)
	GetInstance(ctx context.Context, id int64) (*models.Instance, error)
}

// TurnStore persists conversation turns. The turn row is the record of
// truth for what happened in a conversation; ledger and telemetry writes
// are derived from it and never roll it back.
type TurnStore interface {
	InsertTurn(ctx context.Context, turn *models.ConversationTurn) error
	ListTurns(ctx context.Context, instanceID, userID int64, limit int) ([]models.ConversationTurn, error)
}

// UsageRecorder receives per-agent telemetry rows, either directly into
// Postgres or through the Redis queue.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.AgentUsage) error
}

// TokenLedger gates and charges per-user token budgets.
type TokenLedger interface {
	Check(ctx context.Context, cfg tokens.LimitConfig, userID int64, now time.Time) (tokens.LimitStatus, error)
	Commit(ctx context.Context, cfg tokens.LimitConfig, userID int64, count int, now time.Time) error
}

// CompletionEngine produces a completion from resolved settings.
type CompletionEngine interface {
	CreateCompletion(ctx context.Context, req Request) (*Result, error)
}

// TurnBroadcaster pushes a finished turn to connected widgets. Nil-safe
// callers pass a no-op.
type TurnBroadcaster interface {
	BroadcastTurn(instanceID, userID int64, turn *models.ConversationTurn)
}

type CompletionRequest struct {
	InstanceID int64    `json:"instance_id"`
	Message    string   `json:"message"`
	History    []string `json:"history"`
	ThreadID   string   `json:"thread_id"`
}

// Service runs the full completion pipeline: resolve configuration, gate
// on the token budget, call the provider, then log the turn and charge
// usage. Post-completion bookkeeping failures are logged, never surfaced:
// the student already has their answer.
type Service struct {
	Config      ConfigStore
	Turns       TurnStore
	Ledger      TokenLedger
	Engine      CompletionEngine
	Recorder    UsageRecorder
	Broadcaster TurnBroadcaster

	now func() time.Time
}

func NewService(config ConfigStore, turns TurnStore, ledger TokenLedger, engine CompletionEngine, recorder UsageRecorder, broadcaster TurnBroadcaster) *Service {
	return &Service{
		Config:      config,
		Turns:       turns,
		Ledger:      ledger,
		Engine:      engine,
		Recorder:    recorder,
		Broadcaster: broadcaster,
		now:         time.Now,
	}
}

func (s *Service) Complete(ctx context.Context, user auth.User, req CompletionRequest) (*Result, error) {
	site, err := s.Config.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	instance, err := s.Config.GetInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	// Guest sessions carry no user id. They may chat only when the site
	// does not restrict usage to enrolled users.
	if site.RestrictUsage && user.ID <= 0 {
		return nil, ErrGuestNotAllowed
	}

	settings, err := Resolve(*site, instance, user.Name)
	if err != nil {
		return nil, err
	}

	limitCfg := limitConfig(site)
	now := s.now().UTC()
	status, err := s.Ledger.Check(ctx, limitCfg, user.ID, now)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, &LimitError{Status: status}
	}

	result, err := s.Engine.CreateCompletion(ctx, Request{
		Message:  req.Message,
		History:  req.History,
		Settings: settings,
		ThreadID: req.ThreadID,
	})
	if err != nil {
		return nil, err
	}

	if site.Logging {
		s.record(ctx, user, req, settings, limitCfg, result)
	}
	return result, nil
}

// Limit reports the caller's current budget state without charging it.
func (s *Service) Limit(ctx context.Context, user auth.User) (tokens.LimitStatus, error) {
	site, err := s.Config.GetSiteConfig(ctx)
	if err != nil {
		return tokens.LimitStatus{}, err
	}
	return s.Ledger.Check(ctx, limitConfig(site), user.ID, s.now().UTC())
}

func (s *Service) Conversation(ctx context.Context, user auth.User, instanceID int64, limit int) ([]models.ConversationTurn, error) {
	if _, err := s.Config.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.Turns.ListTurns(ctx, instanceID, user.ID, limit)
}

// record writes the turn, charges the ledger, and emits telemetry. The
// turn insert comes first; if it fails nothing else runs. Ledger and
// telemetry failures are independent of each other and of the response.
func (s *Service) record(ctx context.Context, user auth.User, req CompletionRequest, settings EffectiveSettings, limitCfg tokens.LimitConfig, result *Result) {
	now := s.now().UTC()
	turn := &models.ConversationTurn{
		InstanceID:  req.InstanceID,
		UserID:      user.ID,
		UserMessage: req.Message,
		AIResponse:  result.Message,
		CreatedAt:   now,
	}
	if result.Usage != nil {
		turn.PromptTokens = &result.Usage.Prompt
		turn.CompletionTokens = &result.Usage.Completion
		turn.TotalTokens = &result.Usage.Total
	}
	if err := s.Turns.InsertTurn(ctx, turn); err != nil {
		log.Printf("chat: failed to log turn for user %d instance %d: %v", user.ID, req.InstanceID, err)
		return
	}

	if result.Usage != nil && result.Usage.Total > 0 {
		if err := s.Ledger.Commit(ctx, limitCfg, user.ID, result.Usage.Total, now); err != nil {
			log.Printf("chat: failed to charge %d tokens to user %d: %v", result.Usage.Total, user.ID, err)
		}

		agentID := settings.Model
		if settings.Mode == ModeAssistant {
			agentID = settings.AssistantID
		}
		rec := models.AgentUsage{
			ID:               uuid.New(),
			InstanceID:       req.InstanceID,
			UserID:           user.ID,
			AgentID:          agentID,
			Model:            settings.Model,
			PromptTokens:     result.Usage.Prompt,
			CompletionTokens: result.Usage.Completion,
			TotalTokens:      result.Usage.Total,
			CreatedAt:        now,
		}
		if s.Recorder != nil {
			if err := s.Recorder.Record(ctx, rec); err != nil {
				log.Printf("chat: failed to record agent usage for user %d: %v", user.ID, err)
			}
		}
	}

	if s.Broadcaster != nil {
		s.Broadcaster.BroadcastTurn(req.InstanceID, user.ID, turn)
	}
}

func limitConfig(site *models.SiteConfig) tokens.LimitConfig {
	return tokens.LimitConfig{
		Enabled: site.EnableTokenLimit,
		Limit:   site.MaxTokensPerUser,
		Period:  tokens.PeriodType(site.TokenLimitPeriod),
	}
}
