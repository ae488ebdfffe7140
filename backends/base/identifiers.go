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

package base

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	validHostname   = regexp.MustCompile(`^[a-zA-Z0-9.:_-]+$`)
	ansiEscape      = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
)

// ValidateIdentifier checks if a string is safe to use as a SQL identifier
// (database name, user, table, column) to keep identifiers out of the
// injection surface. Identifiers are never parameterizable, so they must be
// validated rather than escaped.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(identifier) > 63 {
		return fmt.Errorf("identifier exceeds 63 characters: %q", identifier)
	}
	if !validIdentifier.MatchString(identifier) {
		return fmt.Errorf("invalid SQL identifier: %q", identifier)
	}
	return nil
}

// ValidateHost checks hostname characters. Local addresses are fine; the
// gateway does not decide network reachability policy.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if !validHostname.MatchString(host) {
		return fmt.Errorf("invalid characters in hostname: %q", host)
	}
	return nil
}

// ValidatePort checks the TCP port range.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}

// SanitizeLogString removes or escapes characters that could be used for log
// injection, and truncates oversized values so a hostile statement cannot
// flood the log stream.
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiEscape.ReplaceAllString(s, "")
	const maxLogLength = 500
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}
