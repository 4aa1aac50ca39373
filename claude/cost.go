package claude

// Rates holds token pricing in USD per 1M tokens.
type Rates struct {
	InputTokenCost  float64 `json:"input_token_cost"`
	OutputTokenCost float64 `json:"output_token_cost"`
}

// DefaultRates returns Claude Sonnet 4.5 pricing.
func DefaultRates() Rates {
	return Rates{
		InputTokenCost:  3.00,
		OutputTokenCost: 15.00,
	}
}

// Cost converts token usage to USD.
func (r Rates) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*r.InputTokenCost +
		float64(outputTokens)/1_000_000*r.OutputTokenCost
}
