package lantern

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// AuthorizeResult is returned by charge-bearing operations
type AuthorizeResult struct {
	NewBalance  int64 `json:"new_balance"`
	ChargedCost int64 `json:"charged_cost"`
}

// VoteResult reports the claim state after an interaction is recorded
type VoteResult struct {
	Confidence float64 `json:"confidence"`
	RewardPool int64   `json:"reward_pool"`
	Status     string  `json:"status"`
}

// HarvestResult reports the energy claimed from a reward pool
type HarvestResult struct {
	Claimed int64 `json:"claimed"`
}

// SparkView is the outward shape of a claim in search results.
// Coordinates are perturbed; internal weight and affinity fields never leak.
type SparkView struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Kind       string  `json:"kind"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Confidence float64 `json:"confidence"`
	RewardPool int64   `json:"reward_pool"`
	CreatedAt  int64   `json:"created_at"`
}
