package model

// Usage is the token accounting returned by an inference call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is the normalized result of one upstream inference call.
type CompletionResult struct {
	Text  string  `json:"text"`
	Model string  `json:"model"`
	Usage Usage   `json:"usage"`
	Cost  float64 `json:"cost"`
}
