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

// Package gateway is the external surface of the SQL execution gateway. A
// tool-dispatch layer calls the operations here with plain structured data;
// nothing database/sql-shaped leaks across this boundary. Each gateway
// instance owns its own registry, validator, executor, metrics, health
// checker, and schema inspector, so independent instances never share state.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dbgate/gateway/backends/base"
	"dbgate/gateway/backends/mysql"
	"dbgate/gateway/backends/postgres"
	"dbgate/gateway/config"
	"dbgate/gateway/executor"
	"dbgate/gateway/health"
	"dbgate/gateway/metrics"
	"dbgate/gateway/registry"
	"dbgate/gateway/schema"
	"dbgate/gateway/security"
	"dbgate/gateway/shared/logger"
)

// Gateway wires the gateway components behind the external operation set.
type Gateway struct {
	settings  config.Settings
	registry  *registry.Registry
	validator *security.Validator
	executor  *executor.Executor
	collector *metrics.Collector
	health    *health.Checker
	inspector *schema.Inspector
	logger    *logger.Logger
}

// New creates a gateway with PostgreSQL and MySQL backends. Pass nil to run
// with default settings.
func New(settings *config.Settings) *Gateway {
	s := config.Defaults()
	if settings != nil {
		s = *settings
	}

	reg := registry.New(postgres.New(), mysql.New())
	validator := security.NewValidator(s.Security)
	collector := metrics.NewCollector(s.MetricsHistorySize)
	exec := executor.New(reg, validator, collector, time.Duration(s.QueryTimeoutSeconds)*time.Second)
	checker := health.New(reg, time.Duration(s.HealthTimeoutSeconds)*time.Second)

	g := &Gateway{
		settings:  s,
		registry:  reg,
		validator: validator,
		executor:  exec,
		collector: collector,
		health:    checker,
		inspector: schema.NewInspector(reg),
		logger:    logger.New("gateway"),
	}

	policy := g.validator.Policy()
	g.logger.Info("", "", "gateway initialized", map[string]interface{}{
		"readonly_mode":      policy.ReadonlyMode,
		"allowed_operations": policy.AllowedOperations,
		"max_query_length":   policy.MaxQueryLength,
		"query_timeout_s":    s.QueryTimeoutSeconds,
	})
	return g
}

// Registry exposes the connection registry, mainly so tests can substitute
// a database opener before registering connections.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// AddConnection registers a named backend connection and opens its pool.
func (g *Gateway) AddConnection(ctx context.Context, req AddConnectionRequest) AddConnectionResponse {
	requestID := uuid.NewString()

	backendType := req.Type
	if backendType == "" {
		backendType = "postgres"
	}
	poolSize := req.PoolSize
	if poolSize == 0 {
		poolSize = g.settings.PoolSize
	}
	poolMin := req.PoolMin
	if poolMin == 0 {
		poolMin = g.settings.PoolMin
	}

	err := g.registry.Register(ctx, base.ConnectionConfig{
		ID:       req.ID,
		Type:     backendType,
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		User:     req.User,
		Password: req.Password,
		PoolMax:  poolSize,
		PoolMin:  poolMin,
	})
	if err != nil {
		g.logger.Error(req.ID, requestID, "failed to add connection", map[string]interface{}{
			"error": err.Error(),
		})
		return AddConnectionResponse{
			Success:   false,
			Message:   err.Error(),
			ErrorType: string(base.KindOf(err)),
		}
	}

	g.logger.Info(req.ID, requestID, "connection added", map[string]interface{}{
		"type":        backendType,
		"host":        req.Host,
		"pool":        poolSize,
		"connections": g.registry.Count(),
	})
	return AddConnectionResponse{
		Success: true,
		Message: "connection '" + req.ID + "' registered",
	}
}

// TestConnection issues one liveness round trip against a connection.
func (g *Gateway) TestConnection(ctx context.Context, connectionID string) TestConnectionResponse {
	status := g.health.CheckConnection(ctx, connectionID)
	return TestConnectionResponse{
		IsHealthy:      status.Healthy,
		ResponseTimeMS: status.ResponseTimeMS,
		Error:          status.Error,
	}
}

// RemoveConnection drains and tears down a connection's pool. In-flight
// executions finish first; new work against the id fails immediately.
func (g *Gateway) RemoveConnection(ctx context.Context, connectionID string) RemoveConnectionResponse {
	requestID := uuid.NewString()

	if err := g.registry.Remove(ctx, connectionID); err != nil {
		return RemoveConnectionResponse{
			Success:   false,
			Message:   err.Error(),
			ErrorType: string(base.KindOf(err)),
		}
	}
	g.logger.Info(connectionID, requestID, "connection removed", nil)
	return RemoveConnectionResponse{
		Success: true,
		Message: "connection '" + connectionID + "' removed",
	}
}

// ListConnections returns the credential-free descriptor snapshot.
func (g *Gateway) ListConnections() []base.ConnectionInfo {
	return g.registry.List()
}

// ExecuteQuery runs one statement against a connection.
func (g *Gateway) ExecuteQuery(ctx context.Context, connectionID, sqlText string, params []interface{}) *base.ExecutionResult {
	requestID := uuid.NewString()
	g.logger.Debug(connectionID, requestID, "executing statement", map[string]interface{}{
		"sql": base.SanitizeLogString(sqlText),
	})

	result := g.executor.ExecuteQuery(ctx, connectionID, base.Statement{
		SQL:    sqlText,
		Params: params,
		ID:     requestID,
	})
	if !result.Success {
		g.logger.Warn(connectionID, requestID, "query failed", map[string]interface{}{
			"error_type": result.ErrorType,
			"error":      result.Error,
		})
		return result
	}
	g.logger.InfoWithDuration(connectionID, requestID, "query executed", result.DurationMS, map[string]interface{}{
		"row_count":     result.RowCount,
		"rows_affected": result.RowsAffected,
	})
	return result
}

// ExecuteTransaction runs the statements in order inside one transaction
// with per-statement savepoints.
func (g *Gateway) ExecuteTransaction(ctx context.Context, connectionID string, stmts []base.TransactionStatement) *base.TransactionResult {
	requestID := uuid.NewString()

	result := g.executor.ExecuteTransaction(ctx, connectionID, stmts)
	g.logger.InfoWithDuration(connectionID, requestID, "transaction finished", result.DurationMS, map[string]interface{}{
		"statements":  len(stmts),
		"success":     result.Success,
		"rolled_back": result.RolledBack,
	})
	return result
}

// ExecuteBatch runs one parameterized statement once per parameter set.
func (g *Gateway) ExecuteBatch(ctx context.Context, connectionID, sqlText string, paramSets [][]interface{}) *base.BatchResult {
	requestID := uuid.NewString()

	result := g.executor.ExecuteBatch(ctx, connectionID, sqlText, paramSets)
	g.logger.InfoWithDuration(connectionID, requestID, "batch finished", result.DurationMS, map[string]interface{}{
		"batch_size":    result.BatchSize,
		"success":       result.Success,
		"rows_affected": result.RowsAffected,
	})
	return result
}

// GetTableSchema introspects one table through the connection's pool.
func (g *Gateway) GetTableSchema(ctx context.Context, connectionID, table, schemaName string) TableSchemaResponse {
	ts, err := g.inspector.GetTableSchema(ctx, connectionID, table, schemaName)
	if err != nil {
		return TableSchemaResponse{
			Success:   false,
			Error:     err.Error(),
			ErrorType: string(base.KindOf(err)),
		}
	}
	return TableSchemaResponse{Success: true, Schema: ts}
}

// ListTables returns the tables visible in a schema.
func (g *Gateway) ListTables(ctx context.Context, connectionID, schemaName string) ([]schema.Table, error) {
	return g.inspector.ListTables(ctx, connectionID, schemaName)
}

// ListSchemas returns the user-visible schemas on a connection.
func (g *Gateway) ListSchemas(ctx context.Context, connectionID string) ([]string, error) {
	return g.inspector.ListSchemas(ctx, connectionID)
}

// HealthCheck checks one connection, or the whole gateway when
// connectionID is empty.
func (g *Gateway) HealthCheck(ctx context.Context, connectionID string) *base.HealthStatus {
	if connectionID == "" {
		return g.health.CheckSystem(ctx)
	}
	return g.health.CheckConnection(ctx, connectionID)
}

// GetConnectionMetrics returns the aggregate for one connection id.
func (g *Gateway) GetConnectionMetrics(connectionID string) metrics.ConnectionMetrics {
	return g.collector.GetConnectionMetrics(connectionID)
}

// GetGlobalMetrics returns the gateway-wide aggregate.
func (g *Gateway) GetGlobalMetrics() metrics.GlobalMetrics {
	return g.collector.GetGlobalMetrics()
}

// ResetMetrics clears the aggregate for one connection, or everything when
// connectionID is empty.
func (g *Gateway) ResetMetrics(connectionID string) {
	g.collector.Reset(connectionID)
}

// Close drains and closes every pool. Used at process shutdown.
func (g *Gateway) Close(ctx context.Context) {
	g.registry.CloseAll(ctx)
}
