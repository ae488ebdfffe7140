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

package postgres

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"dbgate/gateway/backends/base"
)

// Dialect implements base.Dialect for PostgreSQL via lib/pq.
type Dialect struct{}

// New creates a PostgreSQL dialect.
func New() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return "postgres"
}

func (d *Dialect) Driver() string {
	return "postgres"
}

// DSN builds a key/value connection string. Values are single-quoted with
// embedded quotes and backslashes escaped, per libpq rules.
func (d *Dialect) DSN(cfg *base.ConnectionConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=prefer application_name=dbgate",
		quote(cfg.Host), cfg.Port, quote(cfg.Database), quote(cfg.User), quote(cfg.Password),
	)
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (d *Dialect) PingQuery() string {
	return "SELECT 1"
}

// Rebind rewrites '?' placeholders to $1, $2, ... skipping quoted literals.
func (d *Dialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inSingle, inDouble := false, false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte(ch)
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(ch)
		case ch == '?' && !inSingle && !inDouble:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
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

// SchemaQueries returns information_schema/pg_catalog introspection SQL.
// Parameters are (schema, table) unless noted; placeholders use '?' and are
// rebound before execution.
func (d *Dialect) SchemaQueries() base.SchemaQueries {
	return base.SchemaQueries{
		Columns: `
			SELECT
				c.column_name,
				c.data_type,
				c.is_nullable = 'YES' AS is_nullable,
				c.column_default,
				c.character_maximum_length,
				c.numeric_precision,
				c.numeric_scale,
				c.ordinal_position
			FROM information_schema.columns c
			WHERE c.table_schema = ? AND c.table_name = ?
			ORDER BY c.ordinal_position`,
		Indexes: `
			SELECT
				i.indexname,
				i.indexdef,
				ix.indisunique,
				ix.indisprimary
			FROM pg_indexes i
			JOIN pg_index ix ON ix.indexrelid = (
				SELECT oid FROM pg_class WHERE relname = i.indexname
			)
			WHERE i.schemaname = ? AND i.tablename = ?`,
		Constraints: `
			SELECT
				tc.constraint_name,
				tc.constraint_type,
				kcu.column_name,
				ccu.table_name AS foreign_table_name,
				ccu.column_name AS foreign_column_name
			FROM information_schema.table_constraints tc
			LEFT JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
			LEFT JOIN information_schema.constraint_column_usage ccu
				ON ccu.constraint_name = tc.constraint_name
			WHERE tc.table_schema = ? AND tc.table_name = ?`,
		RowCount: `
			SELECT reltuples::bigint AS row_count
			FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = ? AND c.relname = ?`,
		TableSize: `
			SELECT pg_total_relation_size(format('%I.%I', ?::text, ?::text)::regclass) AS table_size`,
		ListTables: `
			SELECT table_name, table_type
			FROM information_schema.tables
			WHERE table_schema = ?
			ORDER BY table_name`,
		ListSchemas: `
			SELECT schema_name
			FROM information_schema.schemata
			WHERE schema_name NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
			ORDER BY schema_name`,
		DefaultSchema: "public",
	}
}
