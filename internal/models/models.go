package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SiteConfig is the admin-managed, site-wide chat configuration row. The
// API key is stored encrypted and decrypted by the store on read.
type SiteConfig struct {
	APIKey                 string  `json:"-"`
	Mode                   string  `json:"mode"`
	Model                  string  `json:"model"`
	Prompt                 string  `json:"prompt"`
	SourceOfTruth          string  `json:"source_of_truth"`
	AssistantName          string  `json:"assistant_name"`
	AssistantID            string  `json:"assistant_id"`
	Instructions           string  `json:"instructions"`
	Temperature            float64 `json:"temperature"`
	TopP                   float64 `json:"top_p"`
	FrequencyPenalty       float64 `json:"frequency_penalty"`
	PresencePenalty        float64 `json:"presence_penalty"`
	MaxLength              int     `json:"max_length"`
	AllowInstanceOverrides bool    `json:"allow_instance_overrides"`
	Logging                bool    `json:"logging"`
	RestrictUsage          bool    `json:"restrict_usage"`
	EnableTokenLimit       bool    `json:"enable_token_limit"`
	MaxTokensPerUser       int     `json:"max_tokens_per_user"`
	TokenLimitPeriod       string  `json:"token_limit_period"`
}

// Instance is one chat activity embedded in a course page. Override fields
// are pointers: nil or empty means "fall back to the site default".
type Instance struct {
	ID                  int64     `json:"id"`
	CourseID            int64     `json:"course_id"`
	Name                string    `json:"name"`
	Mode                string    `json:"mode"`
	APIKey              *string   `json:"-"`
	Model               *string   `json:"model"`
	Prompt              *string   `json:"prompt"`
	SourceOfTruth       *string   `json:"source_of_truth"`
	AssistantName       *string   `json:"assistant_name"`
	AssistantID         *string   `json:"assistant_id"`
	Instructions        *string   `json:"instructions"`
	Temperature         *float64  `json:"temperature"`
	TopP                *float64  `json:"top_p"`
	FrequencyPenalty    *float64  `json:"frequency_penalty"`
	PresencePenalty     *float64  `json:"presence_penalty"`
	MaxLength           *int      `json:"max_length"`
	PersistConversation bool      `json:"persist_conversation"`
	ShowLabels          bool      `json:"show_labels"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ConversationTurn is one user-message/AI-response exchange. Token columns
// are nullable: a provider that reported no usage is distinct from one that
// reported zero.
type ConversationTurn struct {
	ID               int64     `json:"id"`
	InstanceID       int64     `json:"instance_id"`
	UserID           int64     `json:"user_id"`
	UserMessage      string    `json:"user_message"`
	AIResponse       string    `json:"ai_response"`
	PromptTokens     *int      `json:"prompt_tokens"`
	CompletionTokens *int      `json:"completion_tokens"`
	TotalTokens      *int      `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// TokenLedgerEntry is the per-user, per-period token accounting row.
type TokenLedgerEntry struct {
	UserID      int64     `json:"user_id"`
	PeriodType  string    `json:"period_type"`
	PeriodStart time.Time `json:"period_start"`
	TokensUsed  int       `json:"tokens_used"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AgentUsage is an additive telemetry row breaking token consumption down
// by agent (assistant id in assistant mode, model name in chat mode).
type AgentUsage struct {
	ID               uuid.UUID `json:"id"`
	InstanceID       int64     `json:"instance_id"`
	UserID           int64     `json:"user_id"`
	AgentID          string    `json:"agent_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}
