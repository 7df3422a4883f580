package session

import (
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/feedsync/internal/config"
)

// DefaultProfileName is used when nothing else names a profile.
const DefaultProfileName = "main"

// EnvProfile selects the profile when no flag is given.
const EnvProfile = "FEEDSYNC_PROFILE"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName reports whether name can be used as a profile directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// Resolve picks the active profile. The first non-empty source wins:
// the --profile flag, $FEEDSYNC_PROFILE, default_profile in the config file
// at configPath (ConfigPath() when empty), then "main".
func Resolve(flagOverride, configPath string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvProfile); env != "" {
		return env
	}
	if configPath == "" {
		configPath = ConfigPath()
	}
	if cfg, err := config.Load(configPath); err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}
