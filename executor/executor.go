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

// Package executor runs validated statements against pooled backend
// connections. Every failure crossing this boundary is data: callers branch
// on Success, never on a raised error. The single point where backend errors
// become failed results is this package.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"dbgate/gateway/backends/base"
	"dbgate/gateway/metrics"
	"dbgate/gateway/registry"
	"dbgate/gateway/security"
)

// DefaultTimeout bounds a single operation (one query, one batch, one whole
// transaction) when the caller supplies none.
const DefaultTimeout = 30 * time.Second

// Executor coordinates validation, pool checkout, execution, and metrics.
type Executor struct {
	registry  *registry.Registry
	validator *security.Validator
	collector *metrics.Collector
	timeout   time.Duration
	logger    *log.Logger
}

// New creates an executor. collector may be nil to disable metrics.
func New(reg *registry.Registry, validator *security.Validator, collector *metrics.Collector, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		registry:  reg,
		validator: validator,
		collector: collector,
		timeout:   timeout,
		logger:    log.New(os.Stdout, "[GATEWAY_EXECUTOR] ", log.LstdFlags),
	}
}

func (e *Executor) record(connectionID string, elapsedMS int64, success bool, operation string) {
	if e.collector != nil {
		e.collector.Record(connectionID, elapsedMS, success, operation)
	}
}

func failedResult(err error) *base.ExecutionResult {
	return &base.ExecutionResult{
		Success:   false,
		Error:     err.Error(),
		ErrorType: base.KindOf(err),
	}
}

func rejection(v security.Verdict) *base.Error {
	return base.NewSecurityError(v.Code, v.Reason)
}

// ExecuteQuery runs one statement on one pooled connection. Row-returning
// operations (SELECT/WITH/EXPLAIN) yield columns and rows; everything else
// yields an affected-row count. Backend errors come back as failed results
// carrying the backend text.
func (e *Executor) ExecuteQuery(ctx context.Context, connectionID string, stmt base.Statement) *base.ExecutionResult {
	if strings.TrimSpace(stmt.SQL) == "" {
		return failedResult(base.NewValidationError(base.CodeEmptyQuery, "empty query"))
	}

	verdict := e.validator.Validate(stmt.SQL)
	if !verdict.Accepted {
		e.logger.Printf("Rejected statement on '%s': %s (%s)",
			connectionID, verdict.Code, base.SanitizeLogString(stmt.SQL))
		return failedResult(rejection(verdict))
	}

	handle, err := e.registry.Get(connectionID)
	if err != nil {
		return failedResult(err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := handle.Acquire(ctx)
	if err != nil {
		return failedResult(err)
	}
	defer handle.Release(conn)

	sqlText := handle.Dialect().Rebind(stmt.SQL)

	start := time.Now()
	result := &base.ExecutionResult{Success: true}
	if security.IsRowReturning(verdict.Operation) {
		rows, qerr := conn.QueryContext(ctx, sqlText, stmt.Params...)
		if qerr == nil {
			result.Columns, result.Rows, qerr = scanRows(rows)
			result.RowCount = len(result.Rows)
		}
		err = qerr
	} else {
		var res sql.Result
		res, err = conn.ExecContext(ctx, sqlText, stmt.Params...)
		if err == nil {
			if affected, aerr := res.RowsAffected(); aerr == nil {
				result.RowsAffected = affected
			}
		}
	}
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.ErrorType = base.KindOf(err)
	}
	e.record(connectionID, result.DurationMS, result.Success, verdict.Operation)

	return result
}

// ExecuteTransaction runs the statements in order inside one transaction on
// one physical connection. A savepoint is established before each statement;
// a failing statement rolls back to its own savepoint and then, per its
// failOnError flag (default true), either aborts the whole transaction or
// leaves it open for the next statement.
func (e *Executor) ExecuteTransaction(ctx context.Context, connectionID string, stmts []base.TransactionStatement) *base.TransactionResult {
	if len(stmts) == 0 {
		return &base.TransactionResult{Success: true, Results: []base.StatementResult{}}
	}

	// Resolve every verdict before any backend I/O.
	ops := make([]string, len(stmts))
	for i := range stmts {
		if strings.TrimSpace(stmts[i].SQL) == "" {
			return failedTransaction(i, &stmts[i].Statement,
				base.NewValidationError(base.CodeEmptyQuery, fmt.Sprintf("statement %d: empty query", i)))
		}
		verdict := e.validator.Validate(stmts[i].SQL)
		if !verdict.Accepted {
			e.logger.Printf("Rejected transaction statement %d on '%s': %s",
				i, connectionID, verdict.Code)
			return failedTransaction(i, &stmts[i].Statement, rejection(verdict))
		}
		ops[i] = verdict.Operation
	}

	handle, err := e.registry.Get(connectionID)
	if err != nil {
		return &base.TransactionResult{Success: false, Error: err.Error(), ErrorType: base.KindOf(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := handle.Acquire(ctx)
	if err != nil {
		return &base.TransactionResult{Success: false, Error: err.Error(), ErrorType: base.KindOf(err)}
	}
	defer handle.Release(conn)

	dialect := handle.Dialect()
	start := time.Now()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		out := &base.TransactionResult{
			Success:    false,
			Error:      err.Error(),
			ErrorType:  base.KindOf(err),
			DurationMS: time.Since(start).Milliseconds(),
		}
		e.record(connectionID, out.DurationMS, false, "TRANSACTION")
		return out
	}

	out := &base.TransactionResult{Results: make([]base.StatementResult, 0, len(stmts))}
	aborted := false

	for i := range stmts {
		stmt := &stmts[i]
		sp := fmt.Sprintf("sp_%d", i)
		sres := base.StatementResult{Index: i, StatementID: stmt.ID}

		if _, err = tx.ExecContext(ctx, dialect.Savepoint(sp)); err != nil {
			// Cannot establish the recovery point; fatal to the call.
			sres.Error = err.Error()
			out.Results = append(out.Results, sres)
			aborted = true
			break
		}

		sstart := time.Now()
		var serr error
		if security.IsRowReturning(ops[i]) {
			var rows *sql.Rows
			rows, serr = tx.QueryContext(ctx, dialect.Rebind(stmt.SQL), stmt.Params...)
			if serr == nil {
				sres.Columns, sres.Rows, serr = scanRows(rows)
				sres.RowCount = len(sres.Rows)
			}
		} else {
			var res sql.Result
			res, serr = tx.ExecContext(ctx, dialect.Rebind(stmt.SQL), stmt.Params...)
			if serr == nil {
				if affected, aerr := res.RowsAffected(); aerr == nil {
					sres.RowsAffected = affected
				}
			}
		}
		sres.DurationMS = time.Since(sstart).Milliseconds()

		if serr != nil {
			sres.Error = serr.Error()
			sres.SavepointRollback = true
			if _, rerr := tx.ExecContext(ctx, dialect.RollbackToSavepoint(sp)); rerr != nil {
				// The transaction itself is unusable; abort regardless of policy.
				out.Results = append(out.Results, sres)
				out.Error = rerr.Error()
				aborted = true
				break
			}
			out.Results = append(out.Results, sres)
			if stmt.ShouldFailOnError() {
				out.Error = serr.Error()
				out.ErrorType = base.KindOf(serr)
				aborted = true
				break
			}
			continue
		}

		sres.Success = true
		out.Results = append(out.Results, sres)
		if _, err = tx.ExecContext(ctx, dialect.ReleaseSavepoint(sp)); err != nil {
			out.Error = err.Error()
			aborted = true
			break
		}
	}

	if aborted {
		_ = tx.Rollback()
		out.RolledBack = true
		if out.ErrorType == "" {
			out.ErrorType = base.KindQuery
		}
	} else if err = tx.Commit(); err != nil {
		out.RolledBack = true
		out.Error = err.Error()
		out.ErrorType = base.KindOf(err)
	} else {
		out.Success = true
	}

	out.DurationMS = time.Since(start).Milliseconds()
	e.record(connectionID, out.DurationMS, out.Success, "TRANSACTION")

	return out
}

// ExecuteBatch executes the same parameterized statement once per parameter
// set on one prepared statement inside one transaction. Batches are
// all-or-nothing: a failure partway rolls everything back and reports zero
// rows affected.
func (e *Executor) ExecuteBatch(ctx context.Context, connectionID string, sqlText string, paramSets [][]interface{}) *base.BatchResult {
	if strings.TrimSpace(sqlText) == "" {
		err := base.NewValidationError(base.CodeEmptyQuery, "empty query")
		return &base.BatchResult{Success: false, Error: err.Error(), ErrorType: err.Kind}
	}
	if len(paramSets) == 0 {
		return &base.BatchResult{Success: true, BatchSize: 0}
	}

	verdict := e.validator.Validate(sqlText)
	if !verdict.Accepted {
		err := rejection(verdict)
		return &base.BatchResult{
			Success:   false,
			BatchSize: len(paramSets),
			Error:     err.Error(),
			ErrorType: err.Kind,
		}
	}

	want := countPlaceholders(sqlText)
	for i, set := range paramSets {
		if len(set) != want {
			err := base.NewValidationError(base.CodeParamMismatch,
				fmt.Sprintf("parameter set %d has %d values, statement expects %d", i, len(set), want))
			return &base.BatchResult{
				Success:   false,
				BatchSize: len(paramSets),
				Error:     err.Error(),
				ErrorType: err.Kind,
			}
		}
	}

	handle, err := e.registry.Get(connectionID)
	if err != nil {
		return &base.BatchResult{
			Success:   false,
			BatchSize: len(paramSets),
			Error:     err.Error(),
			ErrorType: base.KindOf(err),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := handle.Acquire(ctx)
	if err != nil {
		return &base.BatchResult{
			Success:   false,
			BatchSize: len(paramSets),
			Error:     err.Error(),
			ErrorType: base.KindOf(err),
		}
	}
	defer handle.Release(conn)

	out := &base.BatchResult{BatchSize: len(paramSets)}
	start := time.Now()

	err = func() error {
		tx, berr := conn.BeginTx(ctx, nil)
		if berr != nil {
			return berr
		}
		prepared, perr := tx.PrepareContext(ctx, handle.Dialect().Rebind(sqlText))
		if perr != nil {
			_ = tx.Rollback()
			return perr
		}
		defer func() { _ = prepared.Close() }()

		var total int64
		for _, set := range paramSets {
			res, xerr := prepared.ExecContext(ctx, set...)
			if xerr != nil {
				_ = tx.Rollback()
				return xerr
			}
			if affected, aerr := res.RowsAffected(); aerr == nil {
				total += affected
			}
		}
		if cerr := tx.Commit(); cerr != nil {
			return cerr
		}
		out.RowsAffected = total
		return nil
	}()

	out.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		out.Error = err.Error()
		out.ErrorType = base.KindOf(err)
		out.RowsAffected = 0
	} else {
		out.Success = true
	}
	e.record(connectionID, out.DurationMS, out.Success, "BATCH")

	return out
}

func failedTransaction(index int, stmt *base.Statement, err error) *base.TransactionResult {
	return &base.TransactionResult{
		Success: false,
		Results: []base.StatementResult{{
			Index:       index,
			StatementID: stmt.ID,
			Error:       err.Error(),
		}},
		Error:     err.Error(),
		ErrorType: base.KindOf(err),
	}
}

// scanRows drains a row set into ordered column names and column→value maps.
// []byte values become strings so text columns survive JSON encoding.
func scanRows(rows *sql.Rows) ([]string, []map[string]interface{}, error) {
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return columns, nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return columns, nil, err
	}
	return columns, results, nil
}

// countPlaceholders counts '?' outside quoted literals.
func countPlaceholders(query string) int {
	n := 0
	inSingle, inDouble := false, false
	for i := 0; i < len(query); i++ {
		switch {
		case query[i] == '\'' && !inDouble:
			inSingle = !inSingle
		case query[i] == '"' && !inSingle:
			inDouble = !inDouble
		case query[i] == '?' && !inSingle && !inDouble:
			n++
		}
	}
	return n
}
