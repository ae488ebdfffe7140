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

package mysql

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"dbgate/gateway/backends/base"
)

// Dialect implements base.Dialect for MySQL via go-sql-driver/mysql.
type Dialect struct{}

// New creates a MySQL dialect.
func New() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return "mysql"
}

func (d *Dialect) Driver() string {
	return "mysql"
}

// DSN builds a go-sql-driver DSN. parseTime is required so DATETIME columns
// scan into time.Time instead of []byte.
func (d *Dialect) DSN(cfg *base.ConnectionConfig) string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=false",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func (d *Dialect) PingQuery() string {
	return "SELECT 1"
}

// Rebind is the identity for MySQL, which uses '?' natively.
func (d *Dialect) Rebind(query string) string {
	return query
}

func (d *Dialect) Savepoint(name string) string {
	return "SAVEPOINT " + name
}

func (d *Dialect) ReleaseSavepoint(name string) string {
	return "RELEASE SAVEPOINT " + name
}

func (d *Dialect) RollbackToSavepoint(name string) string {
	return "ROLLBACK TO SAVEPOINT " + name
}

// SchemaQueries returns INFORMATION_SCHEMA introspection SQL.
// Parameters are (schema, table) unless noted.
func (d *Dialect) SchemaQueries() base.SchemaQueries {
	return base.SchemaQueries{
		Columns: `
			SELECT
				COLUMN_NAME,
				DATA_TYPE,
				IS_NULLABLE = 'YES' AS is_nullable,
				COLUMN_DEFAULT,
				CHARACTER_MAXIMUM_LENGTH,
				NUMERIC_PRECISION,
				NUMERIC_SCALE,
				ORDINAL_POSITION
			FROM INFORMATION_SCHEMA.COLUMNS
			WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			ORDER BY ORDINAL_POSITION`,
		Indexes: `
			SELECT
				INDEX_NAME,
				CONCAT('INDEX ', INDEX_NAME, ' ON ', TABLE_NAME, ' (',
					GROUP_CONCAT(COLUMN_NAME ORDER BY SEQ_IN_INDEX), ')') AS definition,
				NOT NON_UNIQUE AS is_unique,
				INDEX_NAME = 'PRIMARY' AS is_primary
			FROM INFORMATION_SCHEMA.STATISTICS
			WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			GROUP BY INDEX_NAME, TABLE_NAME, NON_UNIQUE`,
		Constraints: `
			SELECT
				kcu.CONSTRAINT_NAME,
				tc.CONSTRAINT_TYPE,
				kcu.COLUMN_NAME,
				kcu.REFERENCED_TABLE_NAME,
				kcu.REFERENCED_COLUMN_NAME
			FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			JOIN INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
				ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
				AND kcu.TABLE_SCHEMA = tc.TABLE_SCHEMA
			WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?`,
		RowCount: `
			SELECT TABLE_ROWS
			FROM INFORMATION_SCHEMA.TABLES
			WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		TableSize: `
			SELECT DATA_LENGTH + INDEX_LENGTH AS table_size
			FROM INFORMATION_SCHEMA.TABLES
			WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		ListTables: `
			SELECT TABLE_NAME, TABLE_TYPE
			FROM INFORMATION_SCHEMA.TABLES
			WHERE TABLE_SCHEMA = ?
			ORDER BY TABLE_NAME`,
		ListSchemas: `
			SELECT SCHEMA_NAME
			FROM INFORMATION_SCHEMA.SCHEMATA
			WHERE SCHEMA_NAME NOT IN ('information_schema', 'performance_schema', 'mysql', 'sys')
			ORDER BY SCHEMA_NAME`,
		DefaultSchema: "",
	}
}
