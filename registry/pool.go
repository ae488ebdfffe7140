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

package registry

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"dbgate/gateway/backends/base"
)

// PoolHandle is the per-connection bounded pool. Concurrent callers share a
// handle; physical connections checked out of it are exclusively owned until
// released, and must be released exactly once.
type PoolHandle struct {
	cfg     base.ConnectionConfig
	dialect base.Dialect
	db      *sql.DB

	mu       sync.Mutex
	checked  int  // outstanding checkouts
	closing  bool // removal started; new checkouts are refused
	drained  chan struct{}
	drainOne sync.Once
}

func newPoolHandle(cfg base.ConnectionConfig, dialect base.Dialect, db *sql.DB) *PoolHandle {
	return &PoolHandle{
		cfg:     cfg,
		dialect: dialect,
		db:      db,
		drained: make(chan struct{}),
	}
}

// Dialect returns the backend dialect this pool was opened with.
func (h *PoolHandle) Dialect() base.Dialect {
	return h.dialect
}

// Config returns a copy of the connection config (password included; the
// handle is internal to the gateway and never serialized).
func (h *PoolHandle) Config() base.ConnectionConfig {
	return h.cfg
}

// Stats exposes the underlying pool counters for health details.
func (h *PoolHandle) Stats() sql.DBStats {
	return h.db.Stats()
}

// Acquire checks out one physical connection, blocking until one is free or
// the context expires. A pool being removed refuses new checkouts
// immediately instead of blocking.
func (h *PoolHandle) Acquire(ctx context.Context) (*sql.Conn, error) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil, base.NewConnectionError(base.CodeNotFound,
			"connection '"+h.cfg.ID+"' is being removed", nil)
	}
	h.checked++
	h.mu.Unlock()

	conn, err := h.db.Conn(ctx)
	if err != nil {
		h.release()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, base.NewTimeoutError(
				"timed out waiting for a pooled connection to '"+h.cfg.ID+"'", err)
		}
		if errors.Is(err, sql.ErrConnDone) {
			return nil, base.NewConnectionError(base.CodeNotFound,
				"connection '"+h.cfg.ID+"' pool is closed", err)
		}
		return nil, base.NewConnectionError(base.CodeBackendUnreachable,
			"failed to check out a connection for '"+h.cfg.ID+"'", err)
	}
	return conn, nil
}

// Release returns a checked-out connection to the pool. Safe with a nil
// conn so callers can defer it unconditionally after a failed Acquire is
// already accounted for.
func (h *PoolHandle) Release(conn *sql.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
	h.release()
}

func (h *PoolHandle) release() {
	h.mu.Lock()
	h.checked--
	if h.closing && h.checked == 0 {
		h.drainOne.Do(func() { close(h.drained) })
	}
	h.mu.Unlock()
}

// drainAndClose refuses new checkouts, waits for outstanding ones to return
// (bounded by ctx), then closes the pool. In-flight executions complete;
// only then are pool resources freed.
func (h *PoolHandle) drainAndClose(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	if h.checked == 0 {
		h.drainOne.Do(func() { close(h.drained) })
	}
	h.mu.Unlock()

	select {
	case <-h.drained:
	case <-ctx.Done():
		// Give up waiting; sql.DB.Close still lets busy connections finish
		// before discarding them.
	}
	return h.db.Close()
}
