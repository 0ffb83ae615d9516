package chat

import (
	"fmt"

	"coursechat/backend/internal/models"
)

type Mode string

const (
	ModeChat      Mode = "chat"
	ModeAssistant Mode = "assistant"
)

const (
	defaultPrompt        = "You are a helpful assistant for an online course. Answer the student's questions clearly and concisely."
	defaultAssistantName = "Assistant"
	defaultUserName      = "User"

	defaultTemperature = 0.5
	defaultTopP        = 1
	defaultFrequency   = 1
	defaultPresence    = 1
	defaultMaxLength   = 500

	sourceOfTruthPreamble = "Below is a list of questions and their answers. This information should be used as a reference for any inquiries:\n\n"
)

// EffectiveSettings is the per-request configuration the engine runs with.
// Exactly one mode's parameter subset is populated: fields belonging to the
// inactive mode are cleared by Resolve so stale cross-mode configuration
// can never leak into a request.
type EffectiveSettings struct {
	APIKey           string
	Mode             Mode
	Model            string
	Prompt           string
	SourceOfTruth    string
	AssistantName    string
	UserDisplayName  string
	AssistantID      string
	Instructions     string
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
}

// Resolve merges the site-wide defaults with one activity instance's
// overrides into a single settings value. It is pure: no I/O, and the only
// failure is malformed input. Instance overrides are honored only when the
// site allows them, and only when the override value is actually present
// (override-by-presence: an empty stored value falls back to the site
// default).
func Resolve(site models.SiteConfig, instance *models.Instance, userName string) (EffectiveSettings, error) {
	if instance == nil {
		return EffectiveSettings{}, &Error{Kind: KindConfig, Detail: "activity instance is required"}
	}

	settings := EffectiveSettings{
		APIKey:           site.APIKey,
		Mode:             Mode(site.Mode),
		Model:            site.Model,
		Prompt:           stringOr(site.Prompt, defaultPrompt),
		AssistantName:    stringOr(site.AssistantName, defaultAssistantName),
		UserDisplayName:  stringOr(userName, defaultUserName),
		AssistantID:      site.AssistantID,
		Instructions:     site.Instructions,
		Temperature:      floatOr(site.Temperature, defaultTemperature),
		TopP:             floatOr(site.TopP, defaultTopP),
		FrequencyPenalty: floatOr(site.FrequencyPenalty, defaultFrequency),
		PresencePenalty:  floatOr(site.PresencePenalty, defaultPresence),
		MaxTokens:        intOr(site.MaxLength, defaultMaxLength),
	}
	if instance.Mode != "" {
		settings.Mode = Mode(instance.Mode)
	}
	if settings.Mode == "" {
		settings.Mode = ModeChat
	}

	if site.AllowInstanceOverrides {
		applyString(&settings.APIKey, instance.APIKey)
		applyString(&settings.Model, instance.Model)
		applyString(&settings.Prompt, instance.Prompt)
		applyString(&settings.AssistantName, instance.AssistantName)
		applyString(&settings.AssistantID, instance.AssistantID)
		applyString(&settings.Instructions, instance.Instructions)
		applyFloat(&settings.Temperature, instance.Temperature)
		applyFloat(&settings.TopP, instance.TopP)
		applyFloat(&settings.FrequencyPenalty, instance.FrequencyPenalty)
		applyFloat(&settings.PresencePenalty, instance.PresencePenalty)
		applyInt(&settings.MaxTokens, instance.MaxLength)
	}

	settings.SourceOfTruth = buildSourceOfTruth(site.SourceOfTruth, instance.SourceOfTruth)

	switch settings.Mode {
	case ModeAssistant:
		settings.Prompt = ""
		settings.SourceOfTruth = ""
		settings.Model = ""
		settings.Temperature = 0
		settings.TopP = 0
		settings.FrequencyPenalty = 0
		settings.PresencePenalty = 0
		settings.MaxTokens = 0
		if settings.AssistantID == "" {
			return EffectiveSettings{}, &Error{Kind: KindConfig, Detail: "no assistant is configured"}
		}
	case ModeChat:
		settings.AssistantID = ""
		settings.Instructions = ""
	default:
		return EffectiveSettings{}, &Error{Kind: KindConfig, Detail: fmt.Sprintf("unknown completion mode %q", settings.Mode)}
	}

	if settings.APIKey == "" {
		return EffectiveSettings{}, &Error{Kind: KindConfig, Detail: "API key is not configured"}
	}
	return settings, nil
}

// buildSourceOfTruth combines the site-wide and instance-level reference
// texts under one preamble. The instance text applies regardless of the
// override flag: it is course content, not configuration.
func buildSourceOfTruth(siteText string, instanceText *string) string {
	local := ""
	if instanceText != nil {
		local = *instanceText
	}
	if siteText == "" && local == "" {
		return ""
	}
	return sourceOfTruthPreamble + siteText + "\n\n" + local + "\n\n"
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func floatOr(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}
	return value
}

func intOr(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func applyString(target *string, override *string) {
	if override != nil && *override != "" {
		*target = *override
	}
}

func applyFloat(target *float64, override *float64) {
	if override != nil {
		*target = *override
	}
}

func applyInt(target *int, override *int) {
	if override != nil {
		*target = *override
	}
}
