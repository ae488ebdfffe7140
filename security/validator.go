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

// Package security classifies SQL statements and decides accept/reject
// before anything reaches a backend.
//
// The engine is a denylist over raw statement text. It is a best-effort
// policy filter layered in front of parameterized execution, not a sound
// security boundary: encodings or obfuscations of a blocked keyword that
// survive comment stripping are not reliably caught. Do not rely on it as a
// substitute for parameterization or database-level privileges.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"dbgate/gateway/backends/base"
)

// Policy configures the validator. The zero value rejects everything; use
// DefaultPolicy as a starting point.
type Policy struct {
	MaxQueryLength    int      `json:"max_query_length" yaml:"max_query_length"`
	AllowedOperations []string `json:"allowed_operations" yaml:"allowed_operations"`
	BlockedKeywords   []string `json:"blocked_keywords" yaml:"blocked_keywords"`
	ReadonlyMode      bool     `json:"readonly_mode" yaml:"readonly_mode"`
}

// DefaultPolicy allows the basic DML surface and blocks schema-destroying
// and privilege-granting keywords.
func DefaultPolicy() Policy {
	return Policy{
		MaxQueryLength:    10000,
		AllowedOperations: []string{"SELECT", "INSERT", "UPDATE", "DELETE", "WITH", "EXPLAIN"},
		BlockedKeywords:   []string{"DROP", "TRUNCATE", "ALTER", "GRANT", "REVOKE"},
		ReadonlyMode:      false,
	}
}

// Verdict is the validator's decision for one statement. Verdicts are
// computed fresh per call and never cached: both the statement text and the
// runtime-configured policy can change between calls.
type Verdict struct {
	Accepted  bool   `json:"accepted"`
	Code      string `json:"code,omitempty"`      // policy code when rejected
	Reason    string `json:"reason,omitempty"`    // human text when rejected
	Operation string `json:"operation,omitempty"` // classified top-level operation
}

func accept(op string) Verdict {
	return Verdict{Accepted: true, Operation: op}
}

func reject(op, code, format string, args ...interface{}) Verdict {
	return Verdict{Accepted: false, Code: code, Reason: fmt.Sprintf(format, args...), Operation: op}
}

// Operation classification table. Order matters only for readability; the
// patterns are mutually exclusive on the first keyword.
var operationOrder = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "WITH", "CREATE", "DROP", "ALTER",
	"TRUNCATE", "EXPLAIN", "COPY", "VACUUM", "REINDEX", "ANALYZE", "GRANT", "REVOKE",
}

// Operations treated as row-returning and permitted in readonly mode.
var readonlyOperations = map[string]bool{
	"SELECT": true, "WITH": true, "EXPLAIN": true,
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// StripComments removes line and block comments and collapses whitespace.
// Used for classification only; the statement actually executed is the
// caller's original text.
func StripComments(sql string) string {
	sql = lineComment.ReplaceAllString(sql, "")
	sql = blockComment.ReplaceAllString(sql, "")
	sql = whitespace.ReplaceAllString(strings.TrimSpace(sql), " ")
	return sql
}

// Classify returns the top-level operation of a statement, or UNKNOWN when
// the first keyword matches nothing in the classification table. Comments
// are stripped before classification so comment-hidden keywords still count.
func Classify(sql string) string {
	cleaned := strings.ToUpper(StripComments(sql))
	first, _, _ := strings.Cut(cleaned, " ")
	for _, op := range operationOrder {
		if first == op {
			return op
		}
	}
	return "UNKNOWN"
}

// IsRowReturning reports whether an operation yields a row set rather than
// an affected-row count.
func IsRowReturning(op string) bool {
	return readonlyOperations[op]
}

// Dangerous structural patterns, checked against the cleaned, uppercased
// statement. First hit wins.
type pattern struct {
	re     *regexp.Regexp
	code   string
	reason string
}

var dangerousPatterns = []pattern{
	{regexp.MustCompile(`\bUNION\b.*\bSELECT\b`), base.CodeDangerousPattern, "UNION-based statement composition"},
	{regexp.MustCompile(`;\s*[A-Z]`), base.CodeDangerousPattern, "command chaining after statement terminator"},
}

var securityRiskPatterns = []pattern{
	// known system catalogs / privilege tables
	{regexp.MustCompile(`\bPG_SHADOW\b`), base.CodeSecurityRisk, "access to system table pg_shadow"},
	{regexp.MustCompile(`\bPG_USER\b`), base.CodeSecurityRisk, "access to system table pg_user"},
	{regexp.MustCompile(`\bPG_AUTHID\b`), base.CodeSecurityRisk, "access to system table pg_authid"},
	{regexp.MustCompile(`\bPG_AUTH_MEMBERS\b`), base.CodeSecurityRisk, "access to system table pg_auth_members"},
	{regexp.MustCompile(`\bPG_ROLES\b`), base.CodeSecurityRisk, "access to system table pg_roles"},
	{regexp.MustCompile(`\bINFORMATION_SCHEMA\.USER_PRIVILEGES\b`), base.CodeSecurityRisk, "access to privilege table information_schema.user_privileges"},
	{regexp.MustCompile(`\bMYSQL\.USER\b`), base.CodeSecurityRisk, "access to privilege table mysql.user"},
	// dynamic SQL primitives
	{regexp.MustCompile(`\bEXECUTE\b`), base.CodeSecurityRisk, "dynamic SQL execution"},
	{regexp.MustCompile(`\bPREPARE\b`), base.CodeSecurityRisk, "dynamic SQL preparation"},
	{regexp.MustCompile(`\bPG_EXEC\s*\(`), base.CodeSecurityRisk, "dynamic SQL execution via pg_exec"},
	// file system access
	{regexp.MustCompile(`\bPG_READ_FILE\b`), base.CodeSecurityRisk, "file read function pg_read_file"},
	{regexp.MustCompile(`\bPG_WRITE_FILE\b`), base.CodeSecurityRisk, "file write function pg_write_file"},
	{regexp.MustCompile(`\bPG_LS_DIR\b`), base.CodeSecurityRisk, "directory listing function pg_ls_dir"},
	{regexp.MustCompile(`\bPG_STAT_FILE\b`), base.CodeSecurityRisk, "file stat function pg_stat_file"},
	{regexp.MustCompile(`\bDBLINK\s*\(`), base.CodeSecurityRisk, "cross-database execution via dblink"},
	{regexp.MustCompile(`\bLOAD_FILE\s*\(`), base.CodeSecurityRisk, "file read function load_file"},
	{regexp.MustCompile(`\bINTO\s+OUTFILE\b`), base.CodeSecurityRisk, "file write via INTO OUTFILE"},
	{regexp.MustCompile(`\bINTO\s+DUMPFILE\b`), base.CodeSecurityRisk, "file write via INTO DUMPFILE"},
	{regexp.MustCompile(`\bCOPY\b.*\b(TO|FROM)\s+PROGRAM\b`), base.CodeSecurityRisk, "program execution via COPY"},
}

// Validator applies a fixed policy to statements. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	policy     Policy
	allowedOps map[string]bool
	blocked    []*regexp.Regexp
	blockedKW  []string
}

// NewValidator normalizes the policy and compiles the blocked-keyword
// matchers once.
func NewValidator(policy Policy) *Validator {
	v := &Validator{
		policy:     policy,
		allowedOps: make(map[string]bool, len(policy.AllowedOperations)),
	}
	for _, op := range policy.AllowedOperations {
		v.allowedOps[strings.ToUpper(op)] = true
	}
	for _, kw := range policy.BlockedKeywords {
		kw = strings.ToUpper(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		v.blockedKW = append(v.blockedKW, kw)
		v.blocked = append(v.blocked, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
	}
	return v
}

// Policy returns a copy of the configured policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate decides accept/reject for one statement. Rules run cheapest
// first; the first matching rule wins and its reason is the one surfaced.
func (v *Validator) Validate(sql string) Verdict {
	cleaned := StripComments(sql)

	// 1. length bound on the cleaned text
	if len(cleaned) > v.policy.MaxQueryLength {
		return reject("", base.CodeQueryTooLong,
			"query length (%d) exceeds maximum allowed (%d)", len(cleaned), v.policy.MaxQueryLength)
	}

	upper := strings.ToUpper(cleaned)

	// 2. top-level operation classification
	op := "UNKNOWN"
	first, _, _ := strings.Cut(upper, " ")
	for _, candidate := range operationOrder {
		if first == candidate {
			op = candidate
			break
		}
	}
	if op == "UNKNOWN" {
		return reject(op, base.CodeOperationNotAllowed, "unrecognized operation is not allowed")
	}

	// 3. readonly mode restricts regardless of the allowed set
	if v.policy.ReadonlyMode && !readonlyOperations[op] {
		return reject(op, base.CodeReadonlyModeViolation,
			"only SELECT, WITH, and EXPLAIN are allowed in readonly mode")
	}

	// 4. allowed-operations set
	if !v.allowedOps[op] {
		return reject(op, base.CodeOperationNotAllowed, "operation '%s' is not allowed", op)
	}

	// 5. blocked keywords, whole-word, case-insensitive
	for i, re := range v.blocked {
		if re.MatchString(upper) {
			return reject(op, base.CodeBlockedKeyword, "blocked keyword '%s' found in query", v.blockedKW[i])
		}
	}

	// 6. structural patterns; the most expensive scans run last
	if op == "DELETE" && !strings.Contains(upper, "WHERE") {
		return reject(op, base.CodeDangerousPattern, "DELETE without WHERE clause")
	}
	if op == "UPDATE" && !strings.Contains(upper, "WHERE") {
		return reject(op, base.CodeDangerousPattern, "UPDATE without WHERE clause")
	}
	for _, p := range dangerousPatterns {
		if p.re.MatchString(upper) {
			return reject(op, p.code, "dangerous pattern detected: %s", p.reason)
		}
	}
	for _, p := range securityRiskPatterns {
		if p.re.MatchString(upper) {
			return reject(op, p.code, "security risk detected: %s", p.reason)
		}
	}

	return accept(op)
}
