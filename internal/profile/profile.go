package profile

import (
	"fmt"
)

// Role categorizes a villager.
type Role string

const (
	RoleYoungMother       Role = "young_mother"
	RoleExperiencedMother Role = "experienced_mother"
	RoleGrandmother       Role = "grandmother"
	RoleSocialWorker      Role = "social_worker"
)

var knownRoles = map[Role]bool{
	RoleYoungMother:       true,
	RoleExperiencedMother: true,
	RoleGrandmother:       true,
	RoleSocialWorker:      true,
}

// DigitalHabits describes which platforms a villager uses and how.
type DigitalHabits struct {
	Apps            []string `json:"apps,omitempty"`
	Platforms       []string `json:"preferred_platforms,omitempty"`
	DailyScreenTime string   `json:"daily_screen_time,omitempty"`
	LearningSources []string `json:"learning_sources,omitempty"`
}

// LanguageStyle describes how a villager talks.
type LanguageStyle struct {
	Dialect       string   `json:"dialect,omitempty"`
	CommonPhrases []string `json:"common_phrases,omitempty"`
	EmojiUsage    string   `json:"emoji_usage,omitempty"`
	Formality     string   `json:"formality_level,omitempty"`
}

// Profile is the static configuration of one villager. Loaded once at
// startup and never mutated during a run.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age"`
	Role Role   `json:"role"`

	Traits   []string `json:"traits,omitempty"`
	Concerns []string `json:"concerns,omitempty"`

	DigitalHabits DigitalHabits `json:"digital_habits"`
	LanguageStyle LanguageStyle `json:"language_style"`

	// SocialConnections lists ids of other villagers this one knows.
	SocialConnections []string `json:"social_connections,omitempty"`

	// ActiveHours are the hours of day (0-23) this villager tends to
	// be awake and online.
	ActiveHours []int `json:"active_hours,omitempty"`

	// ResponseProbability and Initiative weight selection and replies, 0-1.
	ResponseProbability float64 `json:"response_probability"`
	Initiative          float64 `json:"initiative_level"`
}

// Validate rejects malformed profiles at load time so bad configuration
// fails the run before any tick.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile missing id")
	}
	if p.Name == "" {
		return fmt.Errorf("profile %s: missing name", p.ID)
	}
	if p.Age < 15 || p.Age > 90 {
		return fmt.Errorf("profile %s: age %d out of range", p.ID, p.Age)
	}
	if !knownRoles[p.Role] {
		return fmt.Errorf("profile %s: unknown role %q", p.ID, p.Role)
	}
	if p.ResponseProbability < 0 || p.ResponseProbability > 1 {
		return fmt.Errorf("profile %s: response_probability %v out of range", p.ID, p.ResponseProbability)
	}
	if p.Initiative < 0 || p.Initiative > 1 {
		return fmt.Errorf("profile %s: initiative_level %v out of range", p.ID, p.Initiative)
	}
	for _, h := range p.ActiveHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("profile %s: active hour %d out of range", p.ID, h)
		}
	}
	return nil
}

// ActiveAt reports whether the villager is usually active at the given hour.
// A profile without active hours counts as always active.
func (p *Profile) ActiveAt(hour int) bool {
	if len(p.ActiveHours) == 0 {
		return true
	}
	for _, h := range p.ActiveHours {
		if h == hour {
			return true
		}
	}
	return false
}

// Knows reports whether the given agent id is in the social-connection list.
func (p *Profile) Knows(agentID string) bool {
	for _, id := range p.SocialConnections {
		if id == agentID {
			return true
		}
	}
	return false
}

// Summary is a one-line description used in reasoning context.
func (p *Profile) Summary() string {
	return fmt.Sprintf("%s, %d, %s", p.Name, p.Age, p.Role)
}
