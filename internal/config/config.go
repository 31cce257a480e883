package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cfsutil/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is where the optional settings file is looked up.
	DefaultConfigPath = "/etc/cfs-config-util/config.yaml"

	defaultAPIGatewayHost = "api-gw-service-nmn.local"
	defaultAPITimeout     = 60 * time.Second
	defaultVCSUsername    = "crayvcs"
)

// Settings holds the service endpoints and connection parameters shared by
// every API client in a run.
type Settings struct {
	// APIGatewayHost is the host of the API gateway fronting CFS and HSM.
	APIGatewayHost string `yaml:"apiGatewayHost"`
	// CertVerify controls TLS certificate verification for gateway requests.
	CertVerify bool `yaml:"certVerify"`
	// APITimeoutSeconds is the per-request timeout for gateway requests.
	APITimeoutSeconds int `yaml:"apiTimeoutSeconds"`
	// VCSUsername is the username used to authenticate to the VCS git server.
	VCSUsername string `yaml:"vcsUsername"`
}

// APITimeout returns the per-request timeout as a time.Duration.
func (s Settings) APITimeout() time.Duration {
	if s.APITimeoutSeconds <= 0 {
		return defaultAPITimeout
	}
	return time.Duration(s.APITimeoutSeconds) * time.Second
}

// Defaults returns the built-in settings used when neither the settings file
// nor the environment overrides a value.
func Defaults() Settings {
	return Settings{
		APIGatewayHost:    defaultAPIGatewayHost,
		CertVerify:        true,
		APITimeoutSeconds: int(defaultAPITimeout / time.Second),
		VCSUsername:       defaultVCSUsername,
	}
}

// Load builds the effective settings: defaults, overlaid by the YAML settings
// file at configPath (if it exists), overlaid by environment variables.
func Load(configPath string) (Settings, error) {
	settings := Defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("error reading settings from %s: %w", configPath, err)
		}
		logging.Debug("Config", "No settings file at %s, using defaults", configPath)
	} else {
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("error parsing settings from %s: %w", configPath, err)
		}
		logging.Info("Config", "Loaded settings from %s", configPath)
	}

	applyEnvironment(&settings)
	return settings, nil
}

// applyEnvironment overrides settings from the process environment. These
// variables predate the settings file and remain the primary interface for
// installers running the utility in a container.
func applyEnvironment(settings *Settings) {
	if host := os.Getenv("API_GW_HOST"); host != "" {
		settings.APIGatewayHost = host
	}
	if verify := os.Getenv("API_CERT_VERIFY"); verify != "" {
		settings.CertVerify = strings.ToLower(verify) == "true"
	}
	if timeout := os.Getenv("API_TIMEOUT"); timeout != "" {
		seconds, err := strconv.Atoi(timeout)
		if err != nil || seconds <= 0 {
			logging.Warn("Config", "Ignoring invalid API_TIMEOUT value %q", timeout)
		} else {
			settings.APITimeoutSeconds = seconds
		}
	}
	if username := os.Getenv("VCS_USERNAME"); username != "" {
		settings.VCSUsername = username
	}
}
