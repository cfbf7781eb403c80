package secret

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider resolves secretref:env:<NAME> references straight from the
// process environment. It is the provider toolctl registers by default so a
// Redis DSN (or any other Resolver-backed config value) can reference
// REDIS_PASSWORD-style variables through the same secretref: syntax used for
// heavier providers, without requiring a vault or KMS for local/dev use.
type EnvProvider struct{}

// Name implements Provider.
func (EnvProvider) Name() string { return "env" }

// Resolve implements Provider, looking ref up as an environment variable
// name. Resolve errors instead of silently returning "" when the variable is
// unset, since a missing secret should fail the call that needed it rather
// than connect with an empty credential.
func (EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	value, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("secret: environment variable %q is not set", ref)
	}
	return value, nil
}

// Close implements Provider. EnvProvider holds no resources.
func (EnvProvider) Close() error { return nil }

func newEnvProviderFactory(map[string]any) (Provider, error) {
	return EnvProvider{}, nil
}

func init() {
	// Ignore the error: a duplicate registration (e.g. a second import path
	// resolving to the same package instance) is harmless, and DefaultRegistry
	// is process-global.
	_ = DefaultRegistry.Register("env", newEnvProviderFactory)
}

// NewEnvResolver returns a Resolver with the "env" provider already
// registered, so secretref:env:<NAME> tokens resolve without callers having
// to wire a provider by hand. strict controls whether a registered provider
// returning "" is treated as an error (see Resolver.strict).
func NewEnvResolver(strict bool) *Resolver {
	return NewResolver(strict, EnvProvider{})
}
