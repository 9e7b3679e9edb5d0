package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a custom type for handling JSONB fields
type JSONB []map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Spark lifecycle statuses
const (
	SparkActive       = "ACTIVE"
	SparkWithered     = "WITHERED"
	SparkExpired      = "EXPIRED"
	SparkBanned       = "BANNED"
	SparkShadowBanned = "SHADOW_BANNED"
)

// Spark content kinds
const (
	KindHardFact = "hard_fact"
	KindSoftVibe = "soft_vibe"
)

// Interaction actions
const (
	ActionConfirm   = "CONFIRM"
	ActionChallenge = "CHALLENGE"
)

// Spark is a location-bound claim. The location never mutates after
// creation; confidence is always recomputed from the accumulated weights.
type Spark struct {
	ID       string  `json:"id" db:"id"`
	AuthorID *string `json:"author_id,omitempty" db:"author_id"` // nil after erasure
	Content  string  `json:"content" db:"content"`
	Kind     string  `json:"kind" db:"kind"`

	Latitude  float64  `json:"latitude" db:"latitude"`
	Longitude float64  `json:"longitude" db:"longitude"`
	RadiusM   float64  `json:"radius_m" db:"radius_m"`
	Cells     []string `json:"cells" db:"cells"`
	Geohash   string   `json:"geohash" db:"geohash"`

	// Economics
	SpatialRent        int64 `json:"spatial_rent" db:"spatial_rent"`
	Deposit            int64 `json:"deposit" db:"deposit"`
	StakedEnergy       int64 `json:"staked_energy" db:"staked_energy"`
	VerifierRewardPool int64 `json:"verifier_reward_pool" db:"verifier_reward_pool"`

	// Scoring snapshot
	UpvoteWeight   float64 `json:"upvote_weight" db:"upvote_weight"`
	DownvoteWeight float64 `json:"downvote_weight" db:"downvote_weight"`
	Confidence     float64 `json:"confidence" db:"confidence"`
	Entropy        float64 `json:"entropy" db:"entropy"` // reserved for farm detection

	Status        string     `json:"status" db:"status"`
	ExpiresAt     time.Time  `json:"expires_at" db:"expires_at"`
	HardExpiresAt time.Time  `json:"hard_expires_at" db:"hard_expires_at"`
	Revision      int        `json:"revision" db:"revision"`
	Modifications JSONB      `json:"modifications" db:"modifications"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// InteractionMeta carries anti-fraud signals attached to a vote. Named,
// typed fields keep the anti-collusion inputs explicit and testable.
type InteractionMeta struct {
	DeviceHash  string `json:"device_hash,omitempty"`
	IPHint      string `json:"ip_hint,omitempty"`
	CoLocated   bool   `json:"co_located,omitempty"`
	SparkAuthor string `json:"spark_author,omitempty"` // for affinity bookkeeping
}

// Value implements driver.Valuer for InteractionMeta
func (m InteractionMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for InteractionMeta
func (m *InteractionMeta) Scan(value interface{}) error {
	if value == nil {
		*m = InteractionMeta{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Interaction is one account's stance on one spark. Immutable once written;
// (spark_id, voter_id) is unique at the store level.
type Interaction struct {
	ID        string          `json:"id" db:"id"`
	SparkID   string          `json:"spark_id" db:"spark_id"`
	VoterID   string          `json:"voter_id" db:"voter_id"`
	Action    string          `json:"action" db:"action"`
	Latitude  float64         `json:"latitude" db:"latitude"`
	Longitude float64         `json:"longitude" db:"longitude"`
	DistanceM float64         `json:"distance_m" db:"distance_m"`
	Weight    float64         `json:"weight" db:"weight"`
	Meta      InteractionMeta `json:"meta" db:"meta"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Account holds the economic fields of a user. Reputation is clamped to
// [MinReputation, MaxReputation] on every adjustment.
type Account struct {
	ID             string     `json:"id" db:"id"`
	Energy         int64      `json:"energy" db:"energy"`
	Reputation     float64    `json:"reputation" db:"reputation"`
	StakedEnergy   int64      `json:"staked_energy" db:"staked_energy"`
	LastActionAt   *time.Time `json:"last_action_at,omitempty" db:"last_action_at"`
	LastUBIAt      *time.Time `json:"last_ubi_at,omitempty" db:"last_ubi_at"`
	DailyPingsUsed int        `json:"daily_pings_used" db:"daily_pings_used"`
	DailyResetOn   string     `json:"daily_reset_on" db:"daily_reset_on"` // YYYY-MM-DD
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Reputation bounds
const (
	MinReputation = 0.1
	MaxReputation = 10.0
)

// EconomyConfig is the singleton record of tunables. Engines read it through
// an injected provider; it parameterizes behavior and never embeds logic.
type EconomyConfig struct {
	ID int `json:"id" db:"id"`

	// Base action costs
	PingCost        int64 `json:"ping_cost" db:"ping_cost"`
	VerifyCost      int64 `json:"verify_cost" db:"verify_cost"`
	CreateCost      int64 `json:"create_cost" db:"create_cost"`
	RemoteSurcharge int64 `json:"remote_surcharge" db:"remote_surcharge"`

	// Quotas and rate limiting
	FreeDailyPings    int     `json:"free_daily_pings" db:"free_daily_pings"`
	RateFloorSeconds  int     `json:"rate_floor_seconds" db:"rate_floor_seconds"`
	PenaltyWindowSecs int     `json:"penalty_window_seconds" db:"penalty_window_seconds"`
	PenaltyMultiplier float64 `json:"penalty_multiplier" db:"penalty_multiplier"`

	// Claim economics
	UnitRent    int64 `json:"unit_rent" db:"unit_rent"`
	RiskDeposit int64 `json:"risk_deposit" db:"risk_deposit"`

	// Consensus
	WitherThreshold        float64 `json:"wither_threshold" db:"wither_threshold"`
	NeighborWeightFraction float64 `json:"neighbor_weight_fraction" db:"neighbor_weight_fraction"`
	MinVoteWeight          float64 `json:"min_vote_weight" db:"min_vote_weight"`

	// Liquidation reputation deltas
	PublisherPenalty float64 `json:"publisher_penalty" db:"publisher_penalty"`
	BelieverPenalty  float64 `json:"believer_penalty" db:"believer_penalty"`
	ChallengerReward float64 `json:"challenger_reward" db:"challenger_reward"`

	// Dividends
	DividendRatio   float64 `json:"dividend_ratio" db:"dividend_ratio"`
	RewardRetention float64 `json:"reward_retention" db:"reward_retention"`

	// Universal basic income
	UBIAmount         int64 `json:"ubi_amount" db:"ubi_amount"`
	UBIStakeThreshold int64 `json:"ubi_stake_threshold" db:"ubi_stake_threshold"`
	MaxEnergy         int64 `json:"max_energy" db:"max_energy"`

	// Privacy layer
	PerturbRadiusM     float64 `json:"perturb_radius_m" db:"perturb_radius_m"`
	CellSearchBudget   int     `json:"cell_search_budget" db:"cell_search_budget"`
	RadiusSearchBudget int     `json:"radius_search_budget" db:"radius_search_budget"`
	SearchResultCap    int     `json:"search_result_cap" db:"search_result_cap"`

	// Retention
	VoteRetentionDays int `json:"vote_retention_days" db:"vote_retention_days"`
	ClaimLifetimeDays int `json:"claim_lifetime_days" db:"claim_lifetime_days"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultEconomyConfig returns the tunables the service ships with.
func DefaultEconomyConfig() EconomyConfig {
	return EconomyConfig{
		ID:                     1,
		PingCost:               5,
		VerifyCost:             2,
		CreateCost:             50,
		RemoteSurcharge:        10,
		FreeDailyPings:         5,
		RateFloorSeconds:       3,
		PenaltyWindowSecs:      10,
		PenaltyMultiplier:      2.0,
		UnitRent:               10,
		RiskDeposit:            100,
		WitherThreshold:        0.3,
		NeighborWeightFraction: 0.5,
		MinVoteWeight:          0.01,
		PublisherPenalty:       0.5,
		BelieverPenalty:        0.1,
		ChallengerReward:       0.2,
		DividendRatio:          0.5,
		RewardRetention:        0.5,
		UBIAmount:              20,
		UBIStakeThreshold:      50,
		MaxEnergy:              1000,
		PerturbRadiusM:         75,
		CellSearchBudget:       30,
		RadiusSearchBudget:     10,
		SearchResultCap:        50,
		VoteRetentionDays:      90,
		ClaimLifetimeDays:      30,
	}
}

// EconomyConfigPatch is a partial update for the economy configuration.
// One named pointer field per tunable; nil means "leave unchanged".
type EconomyConfigPatch struct {
	PingCost               *int64   `json:"ping_cost,omitempty"`
	VerifyCost             *int64   `json:"verify_cost,omitempty"`
	CreateCost             *int64   `json:"create_cost,omitempty"`
	RemoteSurcharge        *int64   `json:"remote_surcharge,omitempty"`
	FreeDailyPings         *int     `json:"free_daily_pings,omitempty"`
	RateFloorSeconds       *int     `json:"rate_floor_seconds,omitempty"`
	PenaltyWindowSecs      *int     `json:"penalty_window_seconds,omitempty"`
	PenaltyMultiplier      *float64 `json:"penalty_multiplier,omitempty"`
	UnitRent               *int64   `json:"unit_rent,omitempty"`
	RiskDeposit            *int64   `json:"risk_deposit,omitempty"`
	WitherThreshold        *float64 `json:"wither_threshold,omitempty"`
	NeighborWeightFraction *float64 `json:"neighbor_weight_fraction,omitempty"`
	MinVoteWeight          *float64 `json:"min_vote_weight,omitempty"`
	PublisherPenalty       *float64 `json:"publisher_penalty,omitempty"`
	BelieverPenalty        *float64 `json:"believer_penalty,omitempty"`
	ChallengerReward       *float64 `json:"challenger_reward,omitempty"`
	DividendRatio          *float64 `json:"dividend_ratio,omitempty"`
	RewardRetention        *float64 `json:"reward_retention,omitempty"`
	UBIAmount              *int64   `json:"ubi_amount,omitempty"`
	UBIStakeThreshold      *int64   `json:"ubi_stake_threshold,omitempty"`
	MaxEnergy              *int64   `json:"max_energy,omitempty"`
	PerturbRadiusM         *float64 `json:"perturb_radius_m,omitempty"`
	CellSearchBudget       *int     `json:"cell_search_budget,omitempty"`
	RadiusSearchBudget     *int     `json:"radius_search_budget,omitempty"`
	SearchResultCap        *int     `json:"search_result_cap,omitempty"`
	VoteRetentionDays      *int     `json:"vote_retention_days,omitempty"`
	ClaimLifetimeDays      *int     `json:"claim_lifetime_days,omitempty"`
}

// Apply copies every set field of the patch onto cfg.
func (p EconomyConfigPatch) Apply(cfg *EconomyConfig) {
	if p.PingCost != nil {
		cfg.PingCost = *p.PingCost
	}
	if p.VerifyCost != nil {
		cfg.VerifyCost = *p.VerifyCost
	}
	if p.CreateCost != nil {
		cfg.CreateCost = *p.CreateCost
	}
	if p.RemoteSurcharge != nil {
		cfg.RemoteSurcharge = *p.RemoteSurcharge
	}
	if p.FreeDailyPings != nil {
		cfg.FreeDailyPings = *p.FreeDailyPings
	}
	if p.RateFloorSeconds != nil {
		cfg.RateFloorSeconds = *p.RateFloorSeconds
	}
	if p.PenaltyWindowSecs != nil {
		cfg.PenaltyWindowSecs = *p.PenaltyWindowSecs
	}
	if p.PenaltyMultiplier != nil {
		cfg.PenaltyMultiplier = *p.PenaltyMultiplier
	}
	if p.UnitRent != nil {
		cfg.UnitRent = *p.UnitRent
	}
	if p.RiskDeposit != nil {
		cfg.RiskDeposit = *p.RiskDeposit
	}
	if p.WitherThreshold != nil {
		cfg.WitherThreshold = *p.WitherThreshold
	}
	if p.NeighborWeightFraction != nil {
		cfg.NeighborWeightFraction = *p.NeighborWeightFraction
	}
	if p.MinVoteWeight != nil {
		cfg.MinVoteWeight = *p.MinVoteWeight
	}
	if p.PublisherPenalty != nil {
		cfg.PublisherPenalty = *p.PublisherPenalty
	}
	if p.BelieverPenalty != nil {
		cfg.BelieverPenalty = *p.BelieverPenalty
	}
	if p.ChallengerReward != nil {
		cfg.ChallengerReward = *p.ChallengerReward
	}
	if p.DividendRatio != nil {
		cfg.DividendRatio = *p.DividendRatio
	}
	if p.RewardRetention != nil {
		cfg.RewardRetention = *p.RewardRetention
	}
	if p.UBIAmount != nil {
		cfg.UBIAmount = *p.UBIAmount
	}
	if p.UBIStakeThreshold != nil {
		cfg.UBIStakeThreshold = *p.UBIStakeThreshold
	}
	if p.MaxEnergy != nil {
		cfg.MaxEnergy = *p.MaxEnergy
	}
	if p.PerturbRadiusM != nil {
		cfg.PerturbRadiusM = *p.PerturbRadiusM
	}
	if p.CellSearchBudget != nil {
		cfg.CellSearchBudget = *p.CellSearchBudget
	}
	if p.RadiusSearchBudget != nil {
		cfg.RadiusSearchBudget = *p.RadiusSearchBudget
	}
	if p.SearchResultCap != nil {
		cfg.SearchResultCap = *p.SearchResultCap
	}
	if p.VoteRetentionDays != nil {
		cfg.VoteRetentionDays = *p.VoteRetentionDays
	}
	if p.ClaimLifetimeDays != nil {
		cfg.ClaimLifetimeDays = *p.ClaimLifetimeDays
	}
}
