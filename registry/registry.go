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

// Package registry owns the named connection pools. It is the only component
// that creates, mutates, or destroys pool handles; everything else holds a
// registry reference and asks for handles by connection id.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"dbgate/gateway/backends/base"
)

const (
	// Pool size bounds accepted at registration time.
	minPoolSize = 1
	maxPoolSize = 100

	defaultPoolMax         = 10
	defaultPoolMin         = 2
	defaultConnMaxLifetime = 5 * time.Minute

	// Bound on the fail-fast round trip at registration time, so an
	// unresponsive backend cannot stall a registration indefinitely.
	registerPingTimeout = 10 * time.Second
)

// OpenFunc opens a database handle for a driver and DSN. Overridable so
// tests can substitute sqlmock-backed handles.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// Registry manages all registered connection pools.
// Thread-safe for concurrent access.
type Registry struct {
	mu        sync.RWMutex
	pools     map[string]*PoolHandle
	reserving map[string]struct{} // ids mid-registration, not yet committed
	dialects  map[string]base.Dialect
	open      OpenFunc
	logger    *log.Logger
}

// New creates a registry supporting the given dialects.
func New(dialects ...base.Dialect) *Registry {
	byName := make(map[string]base.Dialect, len(dialects))
	for _, d := range dialects {
		byName[d.Name()] = d
	}
	return &Registry{
		pools:     make(map[string]*PoolHandle),
		reserving: make(map[string]struct{}),
		dialects:  byName,
		open:      sql.Open,
		logger:    log.New(os.Stdout, "[GATEWAY_REGISTRY] ", log.LstdFlags),
	}
}

// SetOpener replaces the database opener. Call before registering
// connections; intended for tests.
func (r *Registry) SetOpener(open OpenFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = open
}

// validateConfig checks the structural parameters of a registration.
func (r *Registry) validateConfig(cfg *base.ConnectionConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("connection id cannot be empty")
	}
	if err := base.ValidateHost(cfg.Host); err != nil {
		return err
	}
	if err := base.ValidatePort(cfg.Port); err != nil {
		return err
	}
	if err := base.ValidateIdentifier(cfg.Database); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := base.ValidateIdentifier(cfg.User); err != nil {
		return fmt.Errorf("user: %w", err)
	}
	if cfg.PoolMax < minPoolSize || cfg.PoolMax > maxPoolSize {
		return fmt.Errorf("pool size %d outside [%d,%d]", cfg.PoolMax, minPoolSize, maxPoolSize)
	}
	if cfg.PoolMin < 0 || cfg.PoolMin > cfg.PoolMax {
		return fmt.Errorf("pool min %d outside [0,%d]", cfg.PoolMin, cfg.PoolMax)
	}
	return nil
}

// Register validates the descriptor, attempts a throwaway round trip to fail
// fast on unreachable backends, and stores a pool handle bound to the id.
// Duplicate ids are rejected. Unreachable backends are reported, not retried:
// the caller decides whether to try again.
//
// The id is reserved before the dial so the registry lock is never held
// across backend I/O: lookups and executions on other connections proceed
// while a registration pings its backend.
func (r *Registry) Register(ctx context.Context, cfg base.ConnectionConfig) error {
	if cfg.PoolMax == 0 {
		cfg.PoolMax = defaultPoolMax
	}
	if cfg.PoolMin == 0 {
		cfg.PoolMin = defaultPoolMin
		if cfg.PoolMin > cfg.PoolMax {
			cfg.PoolMin = cfg.PoolMax
		}
	}
	if err := r.validateConfig(&cfg); err != nil {
		return base.NewConnectionError(base.CodeInvalidParameters, err.Error(), nil)
	}

	dialect, ok := r.dialects[cfg.Type]
	if !ok {
		return base.NewConnectionError(base.CodeInvalidParameters,
			fmt.Sprintf("unsupported backend type %q", cfg.Type), nil)
	}

	r.mu.Lock()
	if _, exists := r.pools[cfg.ID]; exists {
		r.mu.Unlock()
		return base.NewConnectionError(base.CodeAlreadyExists,
			fmt.Sprintf("connection '%s' already registered", cfg.ID), nil)
	}
	if _, pending := r.reserving[cfg.ID]; pending {
		r.mu.Unlock()
		return base.NewConnectionError(base.CodeAlreadyExists,
			fmt.Sprintf("connection '%s' registration already in progress", cfg.ID), nil)
	}
	r.reserving[cfg.ID] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.reserving, cfg.ID)
		r.mu.Unlock()
	}()

	pingCtx, cancel := context.WithTimeout(ctx, registerPingTimeout)
	defer cancel()

	db, err := r.open(dialect.Driver(), dialect.DSN(&cfg))
	if err != nil {
		return base.NewConnectionError(base.CodeBackendUnreachable,
			fmt.Sprintf("failed to open connection '%s'", cfg.ID), err)
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return base.NewConnectionError(base.CodeBackendUnreachable,
			fmt.Sprintf("failed to reach backend for '%s'", cfg.ID), err)
	}

	cfg.CreatedAt = time.Now().UTC()
	cfg.Active = true

	r.mu.Lock()
	r.pools[cfg.ID] = newPoolHandle(cfg, dialect, db)
	r.mu.Unlock()

	r.logger.Printf("Registered connection '%s' (type: %s, host: %s, pool: %d)",
		cfg.ID, cfg.Type, base.SanitizeLogString(cfg.Host), cfg.PoolMax)

	return nil
}

// Remove drains and closes the pool bound to id. New checkouts against the
// pool fail immediately; in-flight checkouts are waited for (bounded by ctx)
// before pool resources are discarded.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	handle, exists := r.pools[id]
	if !exists {
		r.mu.Unlock()
		return base.NewConnectionError(base.CodeNotFound,
			fmt.Sprintf("connection '%s' not found", id), nil)
	}
	delete(r.pools, id)
	r.mu.Unlock()

	if err := handle.drainAndClose(ctx); err != nil {
		r.logger.Printf("Error closing pool for '%s': %v", id, err)
	}

	r.logger.Printf("Removed connection '%s'", id)
	return nil
}

// Get returns the pool handle for id.
func (r *Registry) Get(id string) (*PoolHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, exists := r.pools[id]
	if !exists {
		return nil, base.NewConnectionError(base.CodeNotFound,
			fmt.Sprintf("connection '%s' not found", id), nil)
	}
	return handle, nil
}

// TestConnection checks out a connection, issues the dialect's trivial round
// trip, and returns it. A live-but-slow or failing backend yields
// healthy=false plus a detail error; nothing is raised for backend trouble.
func (r *Registry) TestConnection(ctx context.Context, id string) (healthy bool, latency time.Duration, detail error) {
	handle, err := r.Get(id)
	if err != nil {
		return false, 0, err
	}

	start := time.Now()
	conn, err := handle.Acquire(ctx)
	if err != nil {
		return false, time.Since(start), err
	}
	defer handle.Release(conn)

	var one int
	err = conn.QueryRowContext(ctx, handle.Dialect().PingQuery()).Scan(&one)
	latency = time.Since(start)
	if err != nil {
		return false, latency, err
	}
	return true, latency, nil
}

// List returns the credential-free descriptor snapshot, sorted by id.
func (r *Registry) List() []base.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]base.ConnectionInfo, 0, len(r.pools))
	for _, handle := range r.pools {
		cfg := handle.Config()
		infos = append(infos, cfg.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// IDs returns the registered connection ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// CloseAll drains and closes every pool. Used at process shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	handles := make([]*PoolHandle, 0, len(r.pools))
	for id, handle := range r.pools {
		handles = append(handles, handle)
		delete(r.pools, id)
	}
	r.mu.Unlock()

	for _, handle := range handles {
		if err := handle.drainAndClose(ctx); err != nil {
			r.logger.Printf("Error closing pool for '%s': %v", handle.Config().ID, err)
		}
	}
	r.logger.Println("All connection pools closed")
}
