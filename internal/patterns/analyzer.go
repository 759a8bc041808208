// Package patterns derives a user's interaction pattern and behavior type from
// recent conversation messages and long-term memory summaries.
package patterns

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"lerian-entity-resolver/internal/config"
	"lerian-entity-resolver/internal/types"
)

// Classification labels the domain a user leans towards
type Classification string

const (
	CalendarLeaning Classification = "calendar_leaning"
	TaskLeaning     Classification = "task_leaning"
	Balanced        Classification = "balanced"
)

// BehaviorType classifies how a user interacts with the assistant
type BehaviorType string

const (
	BehaviorNewUser     BehaviorType = "new_user"
	BehaviorPowerUser   BehaviorType = "power_user"
	BehaviorHelpSeeker  BehaviorType = "help_seeker"
	BehaviorRegularUser BehaviorType = "regular_user"
	// BehaviorUnknown is recorded when the caller supplied no history at all
	BehaviorUnknown BehaviorType = "unknown"
)

// MaxContextDepth is the upper bound of ConversationPattern.ContextDepth
const MaxContextDepth = 10.0

// Message is one turn of the recent conversation window
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// MemorySummary is a distilled long-term memory about the user
type MemorySummary struct {
	Summary   string    `json:"summary"`
	Agent     string    `json:"agent,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Frequency holds the raw counters behind a classification. Calendar and Task
// are weighted keyword hits; Messages and Memories are input sizes.
type Frequency struct {
	Calendar int `json:"calendar"`
	Task     int `json:"task"`
	Messages int `json:"messages"`
	Memories int `json:"memories"`
}

// ConversationPattern is the result of analysing a conversation
type ConversationPattern struct {
	Classification   Classification `json:"classification"`
	AgentPreferences map[string]int `json:"agent_preferences"`
	TimeTokens       map[string]int `json:"time_tokens"`
	Frequency        Frequency      `json:"frequency"`
	ContextDepth     float64        `json:"context_depth"`
}

// Snapshot returns a deep copy that shares no maps with p
func (p ConversationPattern) Snapshot() ConversationPattern {
	out := p
	out.AgentPreferences = copyCounts(p.AgentPreferences)
	out.TimeTokens = copyCounts(p.TimeTokens)
	return out
}

// PreferredAgent returns the most used agent, ties broken alphabetically
func (p ConversationPattern) PreferredAgent() (string, bool) {
	if len(p.AgentPreferences) == 0 {
		return "", false
	}
	agents := make([]string, 0, len(p.AgentPreferences))
	for agent := range p.AgentPreferences {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool {
		ci, cj := p.AgentPreferences[agents[i]], p.AgentPreferences[agents[j]]
		if ci != cj {
			return ci > cj
		}
		return agents[i] < agents[j]
	})
	return agents[0], true
}

// Aligns reports whether the classification leans towards kind
func (p ConversationPattern) Aligns(kind types.EntityKind) bool {
	switch p.Classification {
	case CalendarLeaning:
		return kind == types.KindEvent
	case TaskLeaning:
		return kind == types.KindTask
	default:
		return false
	}
}

// AgentKind maps an agent name onto the entity kind it manages
func AgentKind(agent string) (types.EntityKind, bool) {
	a := strings.ToLower(agent)
	switch {
	case strings.Contains(a, "calendar"), strings.Contains(a, "event"), strings.Contains(a, "schedul"):
		return types.KindEvent, true
	case strings.Contains(a, "task"), strings.Contains(a, "todo"), strings.Contains(a, "list"):
		return types.KindTask, true
	default:
		return "", false
	}
}

// Config holds analyzer weights and behavior thresholds
type Config struct {
	MemoryWeight       int     `json:"memory_weight"`
	LeaningRatio       float64 `json:"leaning_ratio"`
	MessageDepthWeight float64 `json:"message_depth_weight"`
	MemoryDepthWeight  float64 `json:"memory_depth_weight"`
	NewUserMaxMessages int     `json:"new_user_max_messages"`
	PowerUserMessages  int     `json:"power_user_messages"`
	PowerUserMemories  int     `json:"power_user_memories"`
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{
		MemoryWeight:       2,
		LeaningRatio:       1.5,
		MessageDepthWeight: 0.3,
		MemoryDepthWeight:  0.7,
		NewUserMaxMessages: 3,
		PowerUserMessages:  20,
		PowerUserMemories:  10,
	}
}

// FromAppConfig converts the application analyzer settings
func FromAppConfig(cfg config.PatternsConfig) Config {
	return Config{
		MemoryWeight:       cfg.MemoryWeight,
		LeaningRatio:       cfg.LeaningRatio,
		MessageDepthWeight: cfg.MessageDepthWeight,
		MemoryDepthWeight:  cfg.MemoryDepthWeight,
		NewUserMaxMessages: cfg.NewUserMaxMessages,
		PowerUserMessages:  cfg.PowerUserMessages,
		PowerUserMemories:  cfg.PowerUserMemories,
	}
}

// Analyzer classifies conversations
type Analyzer struct {
	config Config

	calendarWords *regexp.Regexp
	taskWords     *regexp.Regexp
	timeWords     *regexp.Regexp
	helpWord      *regexp.Regexp
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(config Config) *Analyzer {
	return &Analyzer{
		config:        config,
		calendarWords: regexp.MustCompile(`(?i)\b(events?|meetings?|appointments?|calendar|schedul(?:e|ed|ing)|calls?|lunch|dinner|breakfast|conference|interviews?|sessions?|reschedule|invite|rsvp)\b`),
		taskWords:     regexp.MustCompile(`(?i)\b(tasks?|to-?dos?|reminders?|remind|lists?|checklist|complete|completed|done|finish(?:ed)?|deadline|chores?|errands?|groceries|priority)\b`),
		timeWords:     regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|yesterday|morning|afternoon|evening|noon|midnight|weekend|next week|this week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		helpWord:      regexp.MustCompile(`(?i)\bhelp\b`),
	}
}

// Config returns the analyzer configuration
func (a *Analyzer) Config() Config {
	return a.config
}

// AnalyzePatterns derives the conversation pattern from messages and memory
// summaries. Memory hits weigh MemoryWeight times a message hit.
func (a *Analyzer) AnalyzePatterns(messages []Message, memories []MemorySummary) ConversationPattern {
	pattern := ConversationPattern{
		AgentPreferences: make(map[string]int),
		TimeTokens:       make(map[string]int),
		Frequency: Frequency{
			Messages: len(messages),
			Memories: len(memories),
		},
	}

	for _, m := range messages {
		a.tally(&pattern, m.Content, m.Agent, 1)
	}
	for _, m := range memories {
		a.tally(&pattern, m.Summary, m.Agent, a.config.MemoryWeight)
	}

	pattern.Classification = a.classify(pattern.Frequency.Calendar, pattern.Frequency.Task)
	pattern.ContextDepth = a.ContextDepth(len(messages), len(memories))
	return pattern
}

func (a *Analyzer) tally(p *ConversationPattern, text, agent string, weight int) {
	p.Frequency.Calendar += weight * len(a.calendarWords.FindAllStringIndex(text, -1))
	p.Frequency.Task += weight * len(a.taskWords.FindAllStringIndex(text, -1))

	for _, tok := range a.timeWords.FindAllString(text, -1) {
		p.TimeTokens[strings.ToLower(tok)] += weight
	}
	if agent = strings.TrimSpace(agent); agent != "" {
		p.AgentPreferences[agent] += weight
	}
}

func (a *Analyzer) classify(calendar, task int) Classification {
	switch {
	case float64(calendar) > a.config.LeaningRatio*float64(task):
		return CalendarLeaning
	case float64(task) > a.config.LeaningRatio*float64(calendar):
		return TaskLeaning
	default:
		return Balanced
	}
}

// ContextDepth returns min(10, messageWeight*messages + memoryWeight*memories)
func (a *Analyzer) ContextDepth(messageCount, memoryCount int) float64 {
	depth := a.config.MessageDepthWeight*float64(messageCount) + a.config.MemoryDepthWeight*float64(memoryCount)
	return math.Max(0, math.Min(MaxContextDepth, depth))
}

// ClassifyBehavior applies the behavior thresholds in fixed precedence:
// new user, power user, help seeker, regular user
func (a *Analyzer) ClassifyBehavior(messages []Message, memories []MemorySummary) BehaviorType {
	switch {
	case len(messages) < a.config.NewUserMaxMessages && len(memories) == 0:
		return BehaviorNewUser
	case len(messages) >= a.config.PowerUserMessages || len(memories) >= a.config.PowerUserMemories:
		return BehaviorPowerUser
	case a.seeksHelp(messages):
		return BehaviorHelpSeeker
	default:
		return BehaviorRegularUser
	}
}

func (a *Analyzer) seeksHelp(messages []Message) bool {
	question, help := false, false
	for _, m := range messages {
		if strings.Contains(m.Content, "?") {
			question = true
		}
		if a.helpWord.MatchString(m.Content) {
			help = true
		}
		if question && help {
			return true
		}
	}
	return false
}

var defaultAnalyzer = NewAnalyzer(DefaultConfig())

// AnalyzePatterns runs the default analyzer
func AnalyzePatterns(messages []Message, memories []MemorySummary) ConversationPattern {
	return defaultAnalyzer.AnalyzePatterns(messages, memories)
}

// ClassifyBehavior runs the default analyzer
func ClassifyBehavior(messages []Message, memories []MemorySummary) BehaviorType {
	return defaultAnalyzer.ClassifyBehavior(messages, memories)
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
