package resolver

import (
	"time"

	"lerian-entity-resolver/internal/config"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/refcontext"
)

// Config holds the acceptance gates and signal weights of the resolver.
// None of the defaults are tuned values; they are meant to be overridden.
type Config struct {
	MinScore      float64
	MinConfidence float64

	// score signals
	TitleEqualityWeight    float64
	TitleContainmentWeight float64
	DateWeight             float64
	DomainWeight           float64
	AgentWeight            float64
	DepthBonus             float64
	DepthBonusThreshold    float64
	PowerUserBonus         float64

	// confidence signals
	BaseConfidence       float64
	DepthConfidence      float64
	BehaviorAdjustments  map[patterns.BehaviorType]float64
	CalendarBonus        float64
	CalendarFrequencyMin int

	ContextTTL time.Duration
}

// DefaultConfig returns the default resolver configuration
func DefaultConfig() Config {
	return Config{
		MinScore:      0.3,
		MinConfidence: 0.4,

		TitleEqualityWeight:    0.8,
		TitleContainmentWeight: 0.6,
		DateWeight:             0.4,
		DomainWeight:           0.1,
		AgentWeight:            0.1,
		DepthBonus:             0.05,
		DepthBonusThreshold:    5,
		PowerUserBonus:         0.1,

		BaseConfidence:  0.5,
		DepthConfidence: 0.3,
		BehaviorAdjustments: map[patterns.BehaviorType]float64{
			patterns.BehaviorPowerUser:   0.2,
			patterns.BehaviorRegularUser: 0.1,
			patterns.BehaviorHelpSeeker:  -0.1,
			patterns.BehaviorNewUser:     -0.2,
		},
		CalendarBonus:        0.15,
		CalendarFrequencyMin: 5,

		ContextTTL: refcontext.DefaultTTL,
	}
}

// FromAppConfig overlays the application configuration onto the defaults
func FromAppConfig(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	r := cfg.Resolver
	out.MinScore = r.MinScore
	out.MinConfidence = r.MinConfidence
	out.TitleEqualityWeight = r.TitleEqualityWeight
	out.TitleContainmentWeight = r.TitleContainmentWeight
	out.DateWeight = r.DateWeight
	out.DomainWeight = r.DomainWeight
	out.AgentWeight = r.AgentWeight
	out.DepthBonus = r.DepthBonus
	out.DepthBonusThreshold = r.DepthBonusThreshold
	out.PowerUserBonus = r.PowerUserBonus
	out.BaseConfidence = r.BaseConfidence
	out.DepthConfidence = r.DepthConfidence
	out.BehaviorAdjustments = map[patterns.BehaviorType]float64{
		patterns.BehaviorPowerUser:   r.PowerUserAdjustment,
		patterns.BehaviorRegularUser: r.RegularUserAdjustment,
		patterns.BehaviorHelpSeeker:  r.HelpSeekerAdjustment,
		patterns.BehaviorNewUser:     r.NewUserAdjustment,
	}
	out.CalendarBonus = r.CalendarBonus
	out.CalendarFrequencyMin = r.CalendarFrequencyMin
	out.ContextTTL = cfg.Store.TTL()
	return out
}
