// Package sandboxconfig loads the sandbox service's one configuration
// surface: the Config defaults spec.md §6 mandates, overridable via
// environment variables under the SANDBOX_ prefix. Grounded on
// internal/config/config.go's bind-then-read viper pattern: register
// every key with viper.BindEnv, call viper.AutomaticEnv so anything not
// explicitly bound is still reachable, then resolve each field with
// viper.IsSet/viper.GetString et al. rather than going around viper
// straight to os.Getenv.
package sandboxconfig

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"sandboxd/internal/sandbox"
)

// Section is the ConfigSchema section name this package owns, continuing
// the teacher's section/key schema convention.
const Section = "sandbox"

func bindEnvVars() {
	viper.AutomaticEnv()
	viper.BindEnv("sandbox.timeout_seconds", "SANDBOX_TIMEOUT_SECONDS")
	viper.BindEnv("sandbox.memory_limit", "SANDBOX_MEMORY_LIMIT")
	viper.BindEnv("sandbox.cpu_limit", "SANDBOX_CPU_LIMIT")
	viper.BindEnv("sandbox.max_output_size", "SANDBOX_MAX_OUTPUT_SIZE")
	viper.BindEnv("sandbox.max_file_size", "SANDBOX_MAX_FILE_SIZE")
	viper.BindEnv("sandbox.allowed_packages", "SANDBOX_ALLOWED_PACKAGES")
	viper.BindEnv("sandbox.blocked_modules", "SANDBOX_BLOCKED_MODULES")
	viper.BindEnv("sandbox.docker_host", "SANDBOX_DOCKER_HOST", "DOCKER_HOST")
	viper.BindEnv("sandbox.debug", "SANDBOX_DEBUG")
}

// Settings holds the resolved runtime configuration: the sandbox.Config
// policy defaults plus the two fields that aren't per-execution policy
// (where to reach the Docker daemon, and whether to emit debug logs).
type Settings struct {
	Defaults   sandbox.Config
	DockerHost string
	Debug      bool
}

// Load resolves Settings from the environment, falling back to
// spec.md §6's defaults for anything unset. Safe to call multiple times;
// viper.BindEnv calls are idempotent.
func Load() (*Settings, error) {
	bindEnvVars()

	d := sandbox.DefaultConfig()

	cfg := d

	if viper.IsSet("sandbox.timeout_seconds") {
		cfg.Timeout = time.Duration(viper.GetInt("sandbox.timeout_seconds")) * time.Second
	}
	if viper.IsSet("sandbox.memory_limit") {
		cfg.MemoryLimit = viper.GetString("sandbox.memory_limit")
	}
	if viper.IsSet("sandbox.cpu_limit") {
		cfg.CPULimit = viper.GetFloat64("sandbox.cpu_limit")
	}
	if viper.IsSet("sandbox.max_output_size") {
		cfg.MaxOutputSize = viper.GetInt("sandbox.max_output_size")
	}
	if viper.IsSet("sandbox.max_file_size") {
		cfg.MaxFileSize = viper.GetInt64("sandbox.max_file_size")
	}
	if viper.IsSet("sandbox.allowed_packages") {
		cfg.AllowedPackages = splitList(viper.GetString("sandbox.allowed_packages"))
	}
	if viper.IsSet("sandbox.blocked_modules") {
		cfg.BlockedModules = splitList(viper.GetString("sandbox.blocked_modules"))
	}

	settings := &Settings{
		Defaults: cfg,
		Debug:    viper.GetBool("sandbox.debug"),
	}
	if viper.IsSet("sandbox.docker_host") {
		settings.DockerHost = viper.GetString("sandbox.docker_host")
	}

	return settings, nil
}

// splitList turns a comma-separated env value into a trimmed, non-empty
// slice of entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
