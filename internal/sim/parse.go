package sim

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuelin/mamavillage/internal/memory"
)

// maxPlanEntries caps how many plan lines one planning pass may yield.
const maxPlanEntries = 4

type planEntry struct {
	Action   string
	Priority int
	TimeSlot string
}

// defaultPlanEntry is used when the provider yields nothing usable.
func defaultPlanEntry() planEntry {
	return planEntry{
		Action:   "check on the children and tidy up around the house",
		Priority: 1,
	}
}

var (
	priorityRe   = regexp.MustCompile(`\(\s*(?:priority\s*)?(\d{1,2})\s*\)\s*$`)
	bulletRe     = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// parsePlan turns free-form plan text into at most maxPlanEntries
// entries. Each non-empty line becomes one action; a trailing "(N)"
// sets its priority, otherwise 5. Lines with no letters and intro
// lines ending with a colon are skipped.
func parsePlan(text string) []planEntry {
	var entries []planEntry
	for _, line := range strings.Split(text, "\n") {
		line = bulletRe.ReplaceAllString(strings.TrimSpace(line), "")
		if line == "" || !strings.ContainsFunc(line, isLetter) {
			continue
		}
		if strings.HasSuffix(line, ":") || strings.HasSuffix(line, "：") {
			continue
		}

		priority := 5
		if m := priorityRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 10 {
				priority = n
			}
			line = strings.TrimSpace(priorityRe.ReplaceAllString(line, ""))
		}
		if line == "" {
			continue
		}

		entries = append(entries, planEntry{
			Action:   line,
			Priority: priority,
			TimeSlot: classifyTimeSlot(line),
		})
		if len(entries) == maxPlanEntries {
			break
		}
	}
	return entries
}

func isLetter(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127
}

// classifyTimeSlot tags an action with a rough category so the feed and
// queries can group planned activity.
func classifyTimeSlot(action string) string {
	lower := strings.ToLower(action)
	switch {
	case containsAny(lower, "message", "call", "ask", "chat", "tell", "reply", "share", "group"):
		return "conversation"
	case containsAny(lower, "video", "watch", "phone", "browse", "search", "online"):
		return "digital"
	case containsAny(lower, "baby", "child", "kid", "feed", "nap", "diaper", "homework"):
		return "childcare"
	case containsAny(lower, "learn", "read", "study", "practice"):
		return "learning"
	default:
		return "household"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// actionOutcome is the concrete result of executing one planned action.
type actionOutcome struct {
	Description string
	Message     string
	ToAgent     string
	ConvType    memory.ConversationType
	Mood        string
	Learned     string
}

type actionReply struct {
	Description      string `json:"description"`
	Message          string `json:"message"`
	ToAgent          string `json:"to_agent"`
	ConversationType string `json:"conversation_type"`
	Mood             string `json:"mood"`
	Learned          string `json:"learned"`
}

// parseAction extracts an action outcome from provider output. The
// reply must contain a JSON object with a non-empty description.
func parseAction(text string) (actionOutcome, bool) {
	raw := jsonObjectRe.FindString(text)
	if raw == "" {
		return actionOutcome{}, false
	}
	var reply actionReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return actionOutcome{}, false
	}
	if strings.TrimSpace(reply.Description) == "" {
		return actionOutcome{}, false
	}
	return actionOutcome{
		Description: strings.TrimSpace(reply.Description),
		Message:     strings.TrimSpace(reply.Message),
		ToAgent:     strings.TrimSpace(reply.ToAgent),
		ConvType:    normalizeConvType(reply.ConversationType),
		Mood:        strings.TrimSpace(reply.Mood),
		Learned:     strings.TrimSpace(reply.Learned),
	}, true
}

func normalizeConvType(s string) memory.ConversationType {
	switch memory.ConversationType(strings.TrimSpace(strings.ToLower(s))) {
	case memory.ConvHelpRequest:
		return memory.ConvHelpRequest
	case memory.ConvAdvice:
		return memory.ConvAdvice
	case memory.ConvShare:
		return memory.ConvShare
	default:
		return memory.ConvChat
	}
}

// fallbackOutcome is the deterministic action used when the provider is
// unavailable: do the planned thing quietly, send nothing.
func fallbackOutcome(plan *memory.DailyPlan) actionOutcome {
	if plan == nil {
		return actionOutcome{
			Description: "took a quiet moment to rest and look after the house",
			Mood:        "calm",
		}
	}
	return actionOutcome{
		Description: "went ahead with: " + plan.Action,
		Mood:        "calm",
	}
}

// timeContext renders the hour of the world clock as the kind of phrase
// a villager would use.
func timeContext(hour int) string {
	switch {
	case hour >= 5 && hour < 8:
		return "early morning, the village is just waking up"
	case hour >= 8 && hour < 11:
		return "mid-morning, chores and children everywhere"
	case hour >= 11 && hour < 13:
		return "around noon, time to get lunch going"
	case hour >= 13 && hour < 15:
		return "early afternoon, the little ones are napping"
	case hour >= 15 && hour < 18:
		return "late afternoon, things are picking up again"
	case hour >= 18 && hour < 21:
		return "evening, dinner and family time"
	case hour >= 21 && hour < 24:
		return "late evening, the village is settling down"
	default:
		return "the middle of the night, almost everyone is asleep"
	}
}
