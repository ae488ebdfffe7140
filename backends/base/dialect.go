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

// Dialect abstracts the differences between supported SQL backends so that
// the registry, executor, health checker, and schema inspector share one
// implementation instead of one copy per backend.
type Dialect interface {
	// Name returns the dialect identifier (postgres, mysql)
	Name() string

	// Driver returns the database/sql driver name to open connections with
	Driver() string

	// DSN builds a driver-specific connection string from a connection config
	DSN(cfg *ConnectionConfig) string

	// PingQuery returns a trivial round-trip statement used for liveness checks
	PingQuery() string

	// Rebind converts '?' placeholders to the backend's positional form.
	// MySQL keeps '?', PostgreSQL rewrites to $1, $2, ...
	Rebind(query string) string

	// Savepoint/ReleaseSavepoint/RollbackToSavepoint return the SQL used for
	// per-statement recovery points inside a transaction
	Savepoint(name string) string
	ReleaseSavepoint(name string) string
	RollbackToSavepoint(name string) string

	// SchemaQueries returns the introspection statements for this backend.
	// All statements use '?' placeholders and are rebound before execution.
	SchemaQueries() SchemaQueries
}

// SchemaQueries holds the backend-specific introspection SQL.
// Parameter order is (schema, table) for all table-scoped statements.
type SchemaQueries struct {
	Columns     string // column name, type, nullable, default, lengths, position
	Indexes     string // index name, definition, unique flag, primary flag
	Constraints string // constraint name, type, column, referenced table/column
	RowCount    string // estimated row count for a table
	TableSize   string // on-disk size in bytes for a table
	ListTables  string // tables visible in a schema; parameter (schema)
	ListSchemas string // user-visible schemas; no parameters

	// DefaultSchema is used when the caller does not name one
	// (public for PostgreSQL, the connected database for MySQL).
	DefaultSchema string
}
