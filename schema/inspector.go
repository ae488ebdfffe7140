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

// Package schema introspects table structure through the same pool handles
// the executor uses. Table and schema names are identifiers, not
// parameters, so they are validated before any query runs.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"dbgate/gateway/backends/base"
	"dbgate/gateway/registry"
)

// Column describes one table column.
type Column struct {
	Name      string  `json:"name"`
	DataType  string  `json:"data_type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int64  `json:"max_length,omitempty"`
	Precision *int64  `json:"precision,omitempty"`
	Scale     *int64  `json:"scale,omitempty"`
	Position  int     `json:"position"`
}

// Index describes one table index.
type Index struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	Unique     bool   `json:"unique"`
	Primary    bool   `json:"primary"`
}

// Constraint describes one table constraint.
type Constraint struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Column        string `json:"column,omitempty"`
	ForeignTable  string `json:"foreign_table,omitempty"`
	ForeignColumn string `json:"foreign_column,omitempty"`
}

// TableSchema is the full introspection result for one table.
type TableSchema struct {
	Table       string       `json:"table"`
	Schema      string       `json:"schema"`
	Columns     []Column     `json:"columns"`
	Indexes     []Index      `json:"indexes"`
	Constraints []Constraint `json:"constraints"`
	RowCount    int64        `json:"row_count"`
	SizeBytes   int64        `json:"size_bytes"`
}

// Table is one entry from ListTables.
type Table struct {
	Name string `json:"name"`
	Type string `json:"type"` // BASE TABLE, VIEW, ...
}

// Inspector reads table metadata through the registry's pools.
type Inspector struct {
	registry *registry.Registry
}

// NewInspector creates an inspector.
func NewInspector(reg *registry.Registry) *Inspector {
	return &Inspector{registry: reg}
}

// resolveSchema picks the effective schema name: the caller's, else the
// dialect default, else the connected database (MySQL has no schema concept
// separate from the database).
func resolveSchema(handle *registry.PoolHandle, schemaName string) string {
	if schemaName != "" {
		return schemaName
	}
	if def := handle.Dialect().SchemaQueries().DefaultSchema; def != "" {
		return def
	}
	cfg := handle.Config()
	return cfg.Database
}

// GetTableSchema returns columns, indexes, constraints, and size statistics
// for one table.
func (i *Inspector) GetTableSchema(ctx context.Context, connectionID, table, schemaName string) (*TableSchema, error) {
	if err := base.ValidateIdentifier(table); err != nil {
		return nil, base.NewValidationError(base.CodeInvalidParameters, err.Error())
	}
	if schemaName != "" {
		if err := base.ValidateIdentifier(schemaName); err != nil {
			return nil, base.NewValidationError(base.CodeInvalidParameters, err.Error())
		}
	}

	handle, err := i.registry.Get(connectionID)
	if err != nil {
		return nil, err
	}
	schemaName = resolveSchema(handle, schemaName)

	conn, err := handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Release(conn)

	dialect := handle.Dialect()
	queries := dialect.SchemaQueries()

	out := &TableSchema{Table: table, Schema: schemaName}

	if out.Columns, err = i.columns(ctx, conn, dialect, queries.Columns, schemaName, table); err != nil {
		return nil, base.NewQueryError(fmt.Sprintf("failed to read columns for %s.%s", schemaName, table), err)
	}
	if out.Indexes, err = i.indexes(ctx, conn, dialect, queries.Indexes, schemaName, table); err != nil {
		return nil, base.NewQueryError(fmt.Sprintf("failed to read indexes for %s.%s", schemaName, table), err)
	}
	if out.Constraints, err = i.constraints(ctx, conn, dialect, queries.Constraints, schemaName, table); err != nil {
		return nil, base.NewQueryError(fmt.Sprintf("failed to read constraints for %s.%s", schemaName, table), err)
	}

	// Statistics are best-effort: a missing row keeps the zero values.
	row := conn.QueryRowContext(ctx, dialect.Rebind(queries.RowCount), schemaName, table)
	var rowCount sql.NullInt64
	if err := row.Scan(&rowCount); err == nil && rowCount.Valid {
		out.RowCount = rowCount.Int64
	}
	row = conn.QueryRowContext(ctx, dialect.Rebind(queries.TableSize), schemaName, table)
	var size sql.NullInt64
	if err := row.Scan(&size); err == nil && size.Valid {
		out.SizeBytes = size.Int64
	}

	return out, nil
}

// ListTables returns the tables visible in a schema.
func (i *Inspector) ListTables(ctx context.Context, connectionID, schemaName string) ([]Table, error) {
	if schemaName != "" {
		if err := base.ValidateIdentifier(schemaName); err != nil {
			return nil, base.NewValidationError(base.CodeInvalidParameters, err.Error())
		}
	}

	handle, err := i.registry.Get(connectionID)
	if err != nil {
		return nil, err
	}
	schemaName = resolveSchema(handle, schemaName)

	conn, err := handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Release(conn)

	dialect := handle.Dialect()
	rows, err := conn.QueryContext(ctx, dialect.Rebind(dialect.SchemaQueries().ListTables), schemaName)
	if err != nil {
		return nil, base.NewQueryError("failed to list tables in "+schemaName, err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]Table, 0)
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.Type); err != nil {
			return nil, base.NewQueryError("failed to scan table row", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewQueryError("error iterating tables", err)
	}
	return tables, nil
}

// ListSchemas returns the user-visible schemas.
func (i *Inspector) ListSchemas(ctx context.Context, connectionID string) ([]string, error) {
	handle, err := i.registry.Get(connectionID)
	if err != nil {
		return nil, err
	}

	conn, err := handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Release(conn)

	rows, err := conn.QueryContext(ctx, handle.Dialect().SchemaQueries().ListSchemas)
	if err != nil {
		return nil, base.NewQueryError("failed to list schemas", err)
	}
	defer func() { _ = rows.Close() }()

	schemas := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, base.NewQueryError("failed to scan schema row", err)
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewQueryError("error iterating schemas", err)
	}
	return schemas, nil
}

func (i *Inspector) columns(ctx context.Context, conn *sql.Conn, dialect base.Dialect, query, schemaName, table string) ([]Column, error) {
	rows, err := conn.QueryContext(ctx, dialect.Rebind(query), schemaName, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var c Column
		var nullable sql.NullBool
		var def sql.NullString
		var maxLen, precision, scale sql.NullInt64
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &def, &maxLen, &precision, &scale, &c.Position); err != nil {
			return nil, err
		}
		c.Nullable = nullable.Valid && nullable.Bool
		if def.Valid {
			v := def.String
			c.Default = &v
		}
		if maxLen.Valid {
			v := maxLen.Int64
			c.MaxLength = &v
		}
		if precision.Valid {
			v := precision.Int64
			c.Precision = &v
		}
		if scale.Valid {
			v := scale.Int64
			c.Scale = &v
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (i *Inspector) indexes(ctx context.Context, conn *sql.Conn, dialect base.Dialect, query, schemaName, table string) ([]Index, error) {
	rows, err := conn.QueryContext(ctx, dialect.Rebind(query), schemaName, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	indexes := make([]Index, 0)
	for rows.Next() {
		var ix Index
		if err := rows.Scan(&ix.Name, &ix.Definition, &ix.Unique, &ix.Primary); err != nil {
			return nil, err
		}
		indexes = append(indexes, ix)
	}
	return indexes, rows.Err()
}

func (i *Inspector) constraints(ctx context.Context, conn *sql.Conn, dialect base.Dialect, query, schemaName, table string) ([]Constraint, error) {
	rows, err := conn.QueryContext(ctx, dialect.Rebind(query), schemaName, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	constraints := make([]Constraint, 0)
	for rows.Next() {
		var c Constraint
		var column, ftable, fcolumn sql.NullString
		if err := rows.Scan(&c.Name, &c.Type, &column, &ftable, &fcolumn); err != nil {
			return nil, err
		}
		c.Column = column.String
		c.ForeignTable = ftable.String
		c.ForeignColumn = fcolumn.String
		constraints = append(constraints, c)
	}
	return constraints, rows.Err()
}
