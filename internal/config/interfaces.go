package config

import "context"

// SecretProvider resolves secret values by key. SSMProvider serves deployed
// environments and EnvVarProvider serves local runs and tests.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve. Implementations batch requests to stay under API limits.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
