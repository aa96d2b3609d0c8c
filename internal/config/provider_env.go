package config

import (
	"context"
)

// EnvVarProvider resolves secrets from the process environment. Used for
// local runs where DATABASE_URL is set directly or through .env.
type EnvVarProvider struct {
	lookup envLookup
}

// NewEnvVarProvider creates an EnvVarProvider backed by os.LookupEnv.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: defaultDeps().lookupEnv}
}

// GetParametersBatch treats every key as an environment variable name.
// Unset keys are omitted from the result.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := p.lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
