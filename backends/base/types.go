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
	"time"
)

// ConnectionConfig holds everything needed to register a backend connection.
// The password is write-only: it never appears in JSON output or logs.
type ConnectionConfig struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // dialect name: postgres, mysql
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Database  string    `json:"database"`
	User      string    `json:"user"`
	Password  string    `json:"-"`
	PoolMin   int       `json:"pool_min"`
	PoolMax   int       `json:"pool_max"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Info returns the redacted view of a connection handed to callers of List.
func (c *ConnectionConfig) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:        c.ID,
		Type:      c.Type,
		Host:      c.Host,
		Port:      c.Port,
		Database:  c.Database,
		User:      c.User,
		PoolSize:  c.PoolMax,
		CreatedAt: c.CreatedAt,
		Active:    c.Active,
	}
}

// ConnectionInfo is the credential-free descriptor view.
type ConnectionInfo struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Database  string    `json:"database"`
	User      string    `json:"user"`
	PoolSize  int       `json:"pool_size"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Statement is an immutable SQL statement plus its ordered parameters.
type Statement struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params,omitempty"`
	ID     string        `json:"id,omitempty"` // caller-assigned, optional
}

// TransactionStatement wraps a Statement with the per-statement abort policy.
// FailOnError defaults to true when nil: a failed statement rolls back the
// whole transaction instead of just its own savepoint.
type TransactionStatement struct {
	Statement
	FailOnError *bool `json:"fail_on_error,omitempty"`
}

// ShouldFailOnError resolves the default.
func (s *TransactionStatement) ShouldFailOnError() bool {
	if s.FailOnError == nil {
		return true
	}
	return *s.FailOnError
}

// ExecutionResult is the uniform shape every single-statement execution
// returns. Failures are data, not errors: Success is false and Error carries
// the backend or policy text.
type ExecutionResult struct {
	Success      bool                     `json:"success"`
	Columns      []string                 `json:"columns,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
	RowCount     int                      `json:"row_count"`
	RowsAffected int64                    `json:"rows_affected"`
	DurationMS   int64                    `json:"duration_ms"`
	Error        string                   `json:"error,omitempty"`
	ErrorType    ErrorKind                `json:"error_type,omitempty"`
}

// StatementResult is the per-statement outcome inside a transaction.
type StatementResult struct {
	Index             int                      `json:"index"`
	StatementID       string                   `json:"statement_id,omitempty"`
	Success           bool                     `json:"success"`
	Columns           []string                 `json:"columns,omitempty"`
	Rows              []map[string]interface{} `json:"rows,omitempty"`
	RowCount          int                      `json:"row_count"`
	RowsAffected      int64                    `json:"rows_affected"`
	DurationMS        int64                    `json:"duration_ms"`
	Error             string                   `json:"error,omitempty"`
	SavepointRollback bool                     `json:"savepoint_rollback,omitempty"`
}

// TransactionResult aggregates a multi-statement transaction.
type TransactionResult struct {
	Success    bool              `json:"success"`
	Results    []StatementResult `json:"results"`
	RolledBack bool              `json:"rolled_back"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	ErrorType  ErrorKind         `json:"error_type,omitempty"`
}

// BatchResult aggregates a homogeneous parameter batch. Batches are
// all-or-nothing: a mid-batch failure reports zero rows affected.
type BatchResult struct {
	Success      bool      `json:"success"`
	BatchSize    int       `json:"batch_size"`
	RowsAffected int64     `json:"rows_affected"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	ErrorType    ErrorKind `json:"error_type,omitempty"`
}

// HealthStatus reports the liveness of one connection, or of the whole
// gateway when Checks is populated with per-connection results.
type HealthStatus struct {
	Healthy        bool                     `json:"healthy"`
	ResponseTimeMS int64                    `json:"response_time_ms"`
	Details        map[string]string        `json:"details,omitempty"`
	Checks         map[string]*HealthStatus `json:"checks,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
	Error          string                   `json:"error,omitempty"`
}
