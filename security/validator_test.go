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

package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbgate/gateway/backends/base"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "line comment",
			input:    "SELECT 1 -- trailing comment",
			expected: "SELECT 1",
		},
		{
			name:     "block comment",
			input:    "SELECT /* inline */ 1",
			expected: "SELECT 1",
		},
		{
			name:     "multiline block comment",
			input:    "SELECT /* spans\nmultiple\nlines */ 1",
			expected: "SELECT 1",
		},
		{
			name:     "whitespace collapse",
			input:    "  SELECT\t\t1\n\nFROM   t  ",
			expected: "SELECT 1 FROM t",
		},
		{
			name:     "keyword split by block comment rejoins",
			input:    "DR/**/OP TABLE users",
			expected: "DROP TABLE users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripComments(tt.input))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sql      string
		expected string
	}{
		{"SELECT * FROM users", "SELECT"},
		{"select 1", "SELECT"},
		{"  INSERT INTO t VALUES (1)", "INSERT"},
		{"UPDATE t SET a = 1 WHERE id = 2", "UPDATE"},
		{"DELETE FROM t WHERE id = 1", "DELETE"},
		{"WITH cte AS (SELECT 1) SELECT * FROM cte", "WITH"},
		{"EXPLAIN SELECT 1", "EXPLAIN"},
		{"DROP TABLE users", "DROP"},
		{"TRUNCATE users", "TRUNCATE"},
		{"GRANT ALL ON users TO bob", "GRANT"},
		{"-- comment first\nSELECT 1", "SELECT"},
		{"DROP -- sneaky\nTABLE users", "DROP"},
		{"SHOW TABLES", "UNKNOWN"},
		{"gibberish", "UNKNOWN"},
		{"", "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Classify(tt.sql), "sql: %q", tt.sql)
	}
}

func TestIsRowReturning(t *testing.T) {
	assert.True(t, IsRowReturning("SELECT"))
	assert.True(t, IsRowReturning("WITH"))
	assert.True(t, IsRowReturning("EXPLAIN"))
	assert.False(t, IsRowReturning("INSERT"))
	assert.False(t, IsRowReturning("UPDATE"))
	assert.False(t, IsRowReturning("UNKNOWN"))
}

func TestValidateAccepts(t *testing.T) {
	v := NewValidator(DefaultPolicy())

	tests := []struct {
		sql string
		op  string
	}{
		{"SELECT * FROM users WHERE id = ?", "SELECT"},
		{"INSERT INTO users (name) VALUES (?)", "INSERT"},
		{"UPDATE users SET name = ? WHERE id = ?", "UPDATE"},
		{"DELETE FROM users WHERE id = ?", "DELETE"},
		{"WITH recent AS (SELECT * FROM orders) SELECT count(*) FROM recent", "WITH"},
		{"EXPLAIN SELECT * FROM users", "EXPLAIN"},
	}

	for _, tt := range tests {
		verdict := v.Validate(tt.sql)
		assert.True(t, verdict.Accepted, "sql: %q, reason: %s", tt.sql, verdict.Reason)
		assert.Equal(t, tt.op, verdict.Operation)
		assert.Empty(t, verdict.Code)
	}
}

func TestValidateRejections(t *testing.T) {
	v := NewValidator(DefaultPolicy())

	tests := []struct {
		name string
		sql  string
		code string
	}{
		{"drop blocked at classification", "DROP TABLE users", base.CodeOperationNotAllowed},
		{"truncate blocked at classification", "TRUNCATE users", base.CodeOperationNotAllowed},
		{"unknown operation", "SHOW TABLES", base.CodeOperationNotAllowed},
		{"blocked keyword inside allowed op", "SELECT 1; DROP TABLE users", base.CodeBlockedKeyword},
		{"blocked keyword case-insensitive", "select * from t where note = drop_marker or TRUNCATE", base.CodeBlockedKeyword},
		{"delete without where", "DELETE FROM users", base.CodeDangerousPattern},
		{"update without where", "UPDATE users SET active = false", base.CodeDangerousPattern},
		{"union composition", "SELECT name FROM users UNION SELECT passwd FROM secrets", base.CodeDangerousPattern},
		{"chained statements", "SELECT 1; SELECT 2", base.CodeDangerousPattern},
		{"pg_shadow access", "SELECT * FROM pg_shadow WHERE usename = 'admin'", base.CodeSecurityRisk},
		{"mysql user table", "SELECT * FROM mysql.user WHERE host = '%'", base.CodeSecurityRisk},
		{"file read", "SELECT pg_read_file('/etc/passwd') WHERE true", base.CodeSecurityRisk},
		{"load_file", "SELECT load_file('/etc/passwd') FROM dual WHERE 1=1", base.CodeSecurityRisk},
		{"into outfile", "SELECT * FROM t WHERE id=1 INTO OUTFILE '/tmp/x'", base.CodeSecurityRisk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			require.False(t, verdict.Accepted, "expected rejection for %q", tt.sql)
			assert.Equal(t, tt.code, verdict.Code)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestValidateCommentObfuscation(t *testing.T) {
	v := NewValidator(DefaultPolicy())

	// Keyword split by a block comment rejoins after stripping.
	verdict := v.Validate("DR/**/OP TABLE users")
	require.False(t, verdict.Accepted)
	assert.Equal(t, base.CodeOperationNotAllowed, verdict.Code)
	assert.Equal(t, "DROP", verdict.Operation)

	// Keyword hidden behind a line comment still classifies.
	verdict = v.Validate("DROP -- just reading, promise\nTABLE users")
	require.False(t, verdict.Accepted)
	assert.Equal(t, "DROP", verdict.Operation)

	// Comments never hide a blocked keyword inside an allowed statement.
	verdict = v.Validate("SELECT 1 /* x */; DR/**/OP TABLE users")
	require.False(t, verdict.Accepted)
	assert.Equal(t, base.CodeBlockedKeyword, verdict.Code)
}

func TestValidateQueryTooLong(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxQueryLength = 50
	v := NewValidator(policy)

	long := "SELECT '" + strings.Repeat("x", 100) + "'"
	verdict := v.Validate(long)
	require.False(t, verdict.Accepted)
	assert.Equal(t, base.CodeQueryTooLong, verdict.Code)

	// Length is measured after comment stripping: a statement padded with
	// comments is still short.
	padded := "SELECT 1 /* " + strings.Repeat("y", 100) + " */"
	assert.True(t, v.Validate(padded).Accepted)
}

func TestValidateReadonlyMode(t *testing.T) {
	policy := DefaultPolicy()
	policy.ReadonlyMode = true
	v := NewValidator(policy)

	assert.True(t, v.Validate("SELECT 1").Accepted)
	assert.True(t, v.Validate("WITH c AS (SELECT 1) SELECT * FROM c").Accepted)
	assert.True(t, v.Validate("EXPLAIN SELECT 1").Accepted)

	for _, sql := range []string{
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET a = 1 WHERE id = 1",
		"DELETE FROM t WHERE id = 1",
	} {
		verdict := v.Validate(sql)
		require.False(t, verdict.Accepted, "sql: %q", sql)
		assert.Equal(t, base.CodeReadonlyModeViolation, verdict.Code)
	}
}

func TestValidateCustomPolicy(t *testing.T) {
	v := NewValidator(Policy{
		MaxQueryLength:    1000,
		AllowedOperations: []string{"select"},
		BlockedKeywords:   []string{"pg_sleep", ""},
	})

	assert.True(t, v.Validate("SELECT 1").Accepted)

	verdict := v.Validate("INSERT INTO t VALUES (1)")
	require.False(t, verdict.Accepted)
	assert.Equal(t, base.CodeOperationNotAllowed, verdict.Code)

	verdict = v.Validate("SELECT pg_sleep(10)")
	require.False(t, verdict.Accepted)
	assert.Equal(t, base.CodeBlockedKeyword, verdict.Code)
}

func TestPolicyAccessor(t *testing.T) {
	policy := Policy{
		MaxQueryLength:    500,
		AllowedOperations: []string{"SELECT"},
		BlockedKeywords:   []string{"DROP"},
		ReadonlyMode:      true,
	}
	v := NewValidator(policy)
	assert.Equal(t, policy, v.Policy())
}

func TestValidateIsIdempotent(t *testing.T) {
	v := NewValidator(DefaultPolicy())
	sql := "SELECT * FROM users WHERE id = ?"

	first := v.Validate(sql)
	second := v.Validate(sql)
	assert.Equal(t, first, second)
}
