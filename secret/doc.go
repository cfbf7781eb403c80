// Package secret provides a small, dependency-light secret resolution layer
// used by toolctl wherever a Config value (most notably a Redis DSN, see
// RedisStateStoreOptions) may carry a credential rather than plaintext.
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider + Registry); EnvProvider,
//     registered under the name "env" by default, is the one toolctl ships.
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - Full value:  secretref:env:REDIS_PASSWORD
//   - Inline use:  redis://:secretref:env:REDIS_PASSWORD@cache.internal:6379/0
//
// A deployment that needs a heavier-weight provider (vault, a cloud secrets
// manager) registers it with a Resolver or the package-level DefaultRegistry
// the same way EnvProvider is registered in env_provider.go.
package secret
