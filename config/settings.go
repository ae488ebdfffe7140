// Copyright 2025 DBGate
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the gateway's runtime settings from a YAML file with
// ${VAR} environment expansion. The gateway consumes these as plain values;
// where the settings come from is nobody else's concern.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"dbgate/gateway/security"
)

// Settings is the full runtime configuration surface of the gateway.
type Settings struct {
	// Pool defaults applied when a registration omits sizes.
	PoolSize int `yaml:"pool_size"`
	PoolMin  int `yaml:"pool_min"`

	// Per-operation execution bound, in seconds.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`

	// Liveness round-trip bound, in seconds.
	HealthTimeoutSeconds int `yaml:"health_timeout_seconds"`

	// Diagnostic ring size per connection.
	MetricsHistorySize int `yaml:"metrics_history_size"`

	Security security.Policy `yaml:"security"`
}

// Defaults returns the settings used when no file is supplied.
func Defaults() Settings {
	return Settings{
		PoolSize:             10,
		PoolMin:              2,
		QueryTimeoutSeconds:  30,
		HealthTimeoutSeconds: 10,
		MetricsHistorySize:   100,
		Security:             security.DefaultPolicy(),
	}
}

// Load reads a YAML settings file over the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML settings over the defaults, expanding ${VAR} and
// ${VAR:-default} references first.
func Parse(data []byte) (*Settings, error) {
	settings := Defaults()
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if s.PoolSize < 1 || s.PoolSize > 100 {
		return fmt.Errorf("pool_size %d outside [1,100]", s.PoolSize)
	}
	if s.PoolMin < 0 || s.PoolMin > s.PoolSize {
		return fmt.Errorf("pool_min %d outside [0,%d]", s.PoolMin, s.PoolSize)
	}
	if s.QueryTimeoutSeconds < 1 {
		return fmt.Errorf("query_timeout_seconds must be positive")
	}
	if s.HealthTimeoutSeconds < 1 {
		return fmt.Errorf("health_timeout_seconds must be positive")
	}
	if s.MetricsHistorySize < 1 {
		return fmt.Errorf("metrics_history_size must be positive")
	}
	if s.Security.MaxQueryLength < 1 {
		return fmt.Errorf("security.max_query_length must be positive")
	}
	return nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references, supporting
// ${VAR:-default} fallbacks. Undefined variables become empty strings.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
