package llm

import (
	"time"
)

// NewProviderFromConfig creates a Provider from config fields
func NewProviderFromConfig(provider, endpoint, model, region string, timeout time.Duration) (Provider, error) {
	switch provider {
	case "bedrock":
		return NewBedrock(region, model, timeout)
	case "ollama", "":
		return NewClient(endpoint, model, timeout), nil
	default:
		return NewClient(endpoint, model, timeout), nil
	}
}
