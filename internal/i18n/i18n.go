package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fabell4/marion/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages localization of client-facing error messages
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the embedded message files
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// FromAcceptLanguage picks a supported language tag from the request's
// Accept-Language header, falling back to the default.
func (l *Localizer) FromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		if len(tag) >= 2 {
			tag = tag[:2]
		}
		if _, ok := l.localizers[tag]; ok {
			return tag
		}
	}
	return l.defaultLanguage
}

// Message IDs
const (
	MsgRateLimitMinute      = "rate_limit_minute"
	MsgRateLimitDay         = "rate_limit_day"
	MsgRateLimitGlobal      = "rate_limit_global"
	MsgWakeWordRequired     = "wake_word_required"
	MsgOriginNotAllowed     = "origin_not_allowed"
	MsgInvalidBody          = "invalid_body"
	MsgMessagesRequired     = "messages_required"
	MsgTooManyMessages      = "too_many_messages"
	MsgNoProvider           = "no_provider"
	MsgProviderFailed       = "provider_failed"
	MsgProviderTimeout      = "provider_timeout"
	MsgStreamingUnavailable = "streaming_unavailable"
)
