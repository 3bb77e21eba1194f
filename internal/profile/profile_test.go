package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func validProfile() *Profile {
	return &Profile{
		ID:                  "xiaoli",
		Name:                "Xiao Li",
		Age:                 28,
		Role:                RoleYoungMother,
		ResponseProbability: 0.9,
		Initiative:          0.7,
		ActiveHours:         []int{7, 8, 21},
	}
}

func TestValidate(t *testing.T) {
	if err := validProfile().Validate(); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"missing id", func(p *Profile) { p.ID = "" }},
		{"missing name", func(p *Profile) { p.Name = "" }},
		{"age too low", func(p *Profile) { p.Age = 10 }},
		{"age too high", func(p *Profile) { p.Age = 95 }},
		{"unknown role", func(p *Profile) { p.Role = "astronaut" }},
		{"bad probability", func(p *Profile) { p.ResponseProbability = 1.5 }},
		{"bad initiative", func(p *Profile) { p.Initiative = -0.1 }},
		{"bad hour", func(p *Profile) { p.ActiveHours = []int{24} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validProfile()
			tc.mutate(p)
			if err := p.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestActiveAt(t *testing.T) {
	p := validProfile()
	if !p.ActiveAt(7) {
		t.Error("expected active at 7")
	}
	if p.ActiveAt(3) {
		t.Error("expected inactive at 3")
	}

	p.ActiveHours = nil
	if !p.ActiveAt(3) {
		t.Error("empty active hours should mean always active")
	}
}

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.json", `{
		"id": "xiaoli", "name": "Xiao Li", "age": 28, "role": "young_mother",
		"response_probability": 0.9, "initiative_level": 0.7,
		"social_connections": ["wangfang"]
	}`)
	writeProfile(t, dir, "b.json", `{
		"id": "wangfang", "name": "Wang Fang", "age": 35, "role": "experienced_mother",
		"response_probability": 0.8, "initiative_level": 0.6
	}`)

	profiles, err := LoadDir(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if !profiles["xiaoli"].Knows("wangfang") {
		t.Error("xiaoli should know wangfang")
	}
}

func TestLoadDirRejectsUnknownConnection(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.json", `{
		"id": "xiaoli", "name": "Xiao Li", "age": 28, "role": "young_mother",
		"response_probability": 0.9, "initiative_level": 0.7,
		"social_connections": ["ghost"]
	}`)

	_, err := LoadDir(dir, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "unknown connection") {
		t.Fatalf("expected unknown connection error, got %v", err)
	}
}

func TestLoadDirRejectsDuplicateID(t *testing.T) {
	dir := t.TempDir()
	body := `{
		"id": "xiaoli", "name": "Xiao Li", "age": 28, "role": "young_mother",
		"response_probability": 0.9, "initiative_level": 0.7
	}`
	writeProfile(t, dir, "a.json", body)
	writeProfile(t, dir, "b.json", body)

	if _, err := LoadDir(dir, zap.NewNop()); err == nil {
		t.Fatal("expected duplicate id error")
	}
}
