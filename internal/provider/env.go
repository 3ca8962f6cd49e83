package provider

import "strings"

// credentialEnvVars is the fixed deny-list of credential-bearing variable
// names stripped from every tool environment. The runner strips the same set
// again immediately before spawn; neither layer trusts the other to have
// done it.
var credentialEnvVars = []string{
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"INPUT_GITHUB_TOKEN",
	"ACTIONS_RUNTIME_TOKEN",
	"ACTIONS_ID_TOKEN_REQUEST_TOKEN",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"NPM_TOKEN",
	"NODE_AUTH_TOKEN",
	"PYPI_TOKEN",
	"CARGO_REGISTRY_TOKEN",
	"DOCKER_PASSWORD",
	"HF_TOKEN",
}

// CredentialEnvVars returns the deny-list of stripped variable names.
func CredentialEnvVars() []string {
	out := make([]string, len(credentialEnvVars))
	copy(out, credentialEnvVars)
	return out
}

// BuildEnv converts KEY=VALUE pairs into the per-invocation environment map
// with the credential deny-list stripped. The parent process environment is
// never mutated; each invocation gets its own map.
func BuildEnv(base []string) map[string]string {
	env := make(map[string]string, len(base))
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return StripCredentials(env)
}

// StripCredentials removes the deny-listed variable names from env and
// returns the same map for chaining.
func StripCredentials(env map[string]string) map[string]string {
	for _, name := range credentialEnvVars {
		delete(env, name)
	}
	return env
}
