package enums

import "fmt"

// ActionSource maps to the action_source enum in Postgres.
type ActionSource string

const (
	ActionSourceWebsite         ActionSource = "website"
	ActionSourceApp             ActionSource = "app"
	ActionSourcePhoneCall       ActionSource = "phone_call"
	ActionSourceChat            ActionSource = "chat"
	ActionSourceEmail           ActionSource = "email"
	ActionSourceSystemGenerated ActionSource = "system_generated"
	ActionSourceOther           ActionSource = "other"
)

var validActionSources = []ActionSource{
	ActionSourceWebsite,
	ActionSourceApp,
	ActionSourcePhoneCall,
	ActionSourceChat,
	ActionSourceEmail,
	ActionSourceSystemGenerated,
	ActionSourceOther,
}

// IsValid checks whether the given source matches the canonical enum.
func (a ActionSource) IsValid() bool {
	for _, candidate := range validActionSources {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActionSource converts raw strings into ActionSource, defaulting to website.
func ParseActionSource(value string) (ActionSource, error) {
	if value == "" {
		return ActionSourceWebsite, nil
	}
	for _, candidate := range validActionSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid action source %q", value)
}
