package chat

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"coursechat/backend/internal/crypto"
	"coursechat/backend/internal/db"
	"coursechat/backend/internal/models"
)

var ErrInstanceNotFound = errors.New("instance not found")

// Store reads activity configuration and persists conversation turns and
// per-agent usage telemetry. API keys are decrypted with the master key on
// read; a row whose key fails to decrypt is passed through untouched so a
// pre-encryption deployment keeps working.
type Store struct {
	DB        *db.Store
	MasterKey string
}

func NewStore(store *db.Store, masterKey string) *Store {
	return &Store{DB: store, MasterKey: masterKey}
}

func (s *Store) GetSiteConfig(ctx context.Context) (*models.SiteConfig, error) {
	var cfg models.SiteConfig
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT api_key, mode, model, prompt, source_of_truth, assistant_name, assistant_id, instructions,
		       temperature, top_p, frequency_penalty, presence_penalty, max_length,
		       allow_instance_overrides, logging, restrict_usage,
		       enable_token_limit, max_tokens_per_user, token_limit_period
		FROM chat_site_config
		WHERE id=1`).
		Scan(&cfg.APIKey, &cfg.Mode, &cfg.Model, &cfg.Prompt, &cfg.SourceOfTruth, &cfg.AssistantName,
			&cfg.AssistantID, &cfg.Instructions, &cfg.Temperature, &cfg.TopP, &cfg.FrequencyPenalty,
			&cfg.PresencePenalty, &cfg.MaxLength, &cfg.AllowInstanceOverrides, &cfg.Logging,
			&cfg.RestrictUsage, &cfg.EnableTokenLimit, &cfg.MaxTokensPerUser, &cfg.TokenLimitPeriod)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey != "" {
		if decrypted, err := crypto.Decrypt(s.MasterKey, cfg.APIKey); err == nil {
			cfg.APIKey = decrypted
		}
	}
	return &cfg, nil
}

func (s *Store) GetInstance(ctx context.Context, id int64) (*models.Instance, error) {
	var inst models.Instance
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT id, course_id, name, mode, api_key, model, prompt, source_of_truth, assistant_name,
		       assistant_id, instructions, temperature, top_p, frequency_penalty, presence_penalty,
		       max_length, persist_conversation, show_labels, created_at, updated_at
		FROM chat_instances
		WHERE id=$1`, id).
		Scan(&inst.ID, &inst.CourseID, &inst.Name, &inst.Mode, &inst.APIKey, &inst.Model, &inst.Prompt,
			&inst.SourceOfTruth, &inst.AssistantName, &inst.AssistantID, &inst.Instructions,
			&inst.Temperature, &inst.TopP, &inst.FrequencyPenalty, &inst.PresencePenalty,
			&inst.MaxLength, &inst.PersistConversation, &inst.ShowLabels, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	if inst.APIKey != nil && *inst.APIKey != "" {
		if decrypted, err := crypto.Decrypt(s.MasterKey, *inst.APIKey); err == nil {
			inst.APIKey = &decrypted
		}
	}
	return &inst, nil
}

func (s *Store) InsertTurn(ctx context.Context, turn *models.ConversationTurn) error {
	return s.DB.Pool.QueryRow(ctx, `
		INSERT INTO chat_log (instance_id, user_id, user_message, ai_response, prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		turn.InstanceID, turn.UserID, turn.UserMessage, turn.AIResponse,
		turn.PromptTokens, turn.CompletionTokens, turn.TotalTokens, turn.CreatedAt).
		Scan(&turn.ID)
}

// ListTurns returns a user's conversation with one activity instance,
// oldest first, so the widget can replay it on page load.
func (s *Store) ListTurns(ctx context.Context, instanceID, userID int64, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT id, instance_id, user_id, user_message, ai_response, prompt_tokens, completion_tokens, total_tokens, created_at
		FROM chat_log
		WHERE instance_id=$1 AND user_id=$2
		ORDER BY created_at ASC, id ASC
		LIMIT $3`, instanceID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var turn models.ConversationTurn
		if err := rows.Scan(&turn.ID, &turn.InstanceID, &turn.UserID, &turn.UserMessage, &turn.AIResponse,
			&turn.PromptTokens, &turn.CompletionTokens, &turn.TotalTokens, &turn.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *Store) InsertAgentUsage(ctx context.Context, rec models.AgentUsage) error {
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO chat_agent_usage (id, instance_id, user_id, agent_id, model, prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.InstanceID, rec.UserID, rec.AgentID, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CreatedAt)
	return err
}

type AgentUsageSummary struct {
	AgentID          string    `json:"agent_id"`
	Requests         int64     `json:"requests"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	FirstUse         time.Time `json:"first_use"`
	LastUse          time.Time `json:"last_use"`
}

func (s *Store) UsageByAgent(ctx context.Context, since time.Time, instanceID int64) ([]AgentUsageSummary, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT agent_id, COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0), COALESCE(SUM(total_tokens),0),
		       MIN(created_at), MAX(created_at)
		FROM chat_agent_usage
		WHERE created_at >= $1 AND ($2 = 0 OR instance_id = $2)
		GROUP BY agent_id
		ORDER BY SUM(total_tokens) DESC`, since, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []AgentUsageSummary
	for rows.Next() {
		var row AgentUsageSummary
		if err := rows.Scan(&row.AgentID, &row.Requests, &row.PromptTokens, &row.CompletionTokens,
			&row.TotalTokens, &row.FirstUse, &row.LastUse); err != nil {
			return nil, err
		}
		summaries = append(summaries, row)
	}
	return summaries, rows.Err()
}

type UserUsageSummary struct {
	UserID           int64     `json:"user_id"`
	Requests         int64     `json:"requests"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	FirstUse         time.Time `json:"first_use"`
	LastUse          time.Time `json:"last_use"`
}

func (s *Store) UsageByUser(ctx context.Context, since time.Time, instanceID int64) ([]UserUsageSummary, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT user_id, COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0), COALESCE(SUM(total_tokens),0),
		       MIN(created_at), MAX(created_at)
		FROM chat_agent_usage
		WHERE created_at >= $1 AND ($2 = 0 OR instance_id = $2)
		GROUP BY user_id
		ORDER BY SUM(total_tokens) DESC`, since, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []UserUsageSummary
	for rows.Next() {
		var row UserUsageSummary
		if err := rows.Scan(&row.UserID, &row.Requests, &row.PromptTokens, &row.CompletionTokens,
			&row.TotalTokens, &row.FirstUse, &row.LastUse); err != nil {
			return nil, err
		}
		summaries = append(summaries, row)
	}
	return summaries, rows.Err()
}

type DailyUsage struct {
	Day              time.Time `json:"day"`
	Requests         int64     `json:"requests"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
}

func (s *Store) DailyUsage(ctx context.Context, days int, instanceID int64) ([]DailyUsage, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT date_trunc('day', created_at), COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0), COALESCE(SUM(total_tokens),0)
		FROM chat_agent_usage
		WHERE created_at >= $1 AND ($2 = 0 OR instance_id = $2)
		GROUP BY date_trunc('day', created_at)
		ORDER BY date_trunc('day', created_at) ASC`, since, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []DailyUsage
	for rows.Next() {
		var row DailyUsage
		if err := rows.Scan(&row.Day, &row.Requests, &row.PromptTokens, &row.CompletionTokens, &row.TotalTokens); err != nil {
			return nil, err
		}
		usage = append(usage, row)
	}
	return usage, rows.Err()
}

type ModelUsage struct {
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

func (s *Store) TopModels(ctx context.Context, limit int, since time.Time) ([]ModelUsage, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT model, COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0), COALESCE(SUM(total_tokens),0)
		FROM chat_agent_usage
		WHERE created_at >= $1
		GROUP BY model
		ORDER BY SUM(total_tokens) DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []ModelUsage
	for rows.Next() {
		var row ModelUsage
		if err := rows.Scan(&row.Model, &row.Requests, &row.PromptTokens, &row.CompletionTokens, &row.TotalTokens); err != nil {
			return nil, err
		}
		usage = append(usage, row)
	}
	return usage, rows.Err()
}
