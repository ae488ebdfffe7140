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

// Package health verifies pool liveness with trivial round trips and
// aggregates a gateway-wide verdict. It observes the registry; it never
// mutates it.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"dbgate/gateway/backends/base"
	"dbgate/gateway/registry"
)

// DefaultTimeout bounds one liveness round trip.
const DefaultTimeout = 10 * time.Second

// Checker wraps the registry's TestConnection with timeouts and converts
// every failure mode, timeouts included, into an unhealthy verdict instead
// of an error.
type Checker struct {
	registry *registry.Registry
	timeout  time.Duration
	logger   *log.Logger
}

// New creates a checker.
func New(reg *registry.Registry, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		registry: reg,
		timeout:  timeout,
		logger:   log.New(os.Stdout, "[GATEWAY_HEALTH] ", log.LstdFlags),
	}
}

// CheckConnection checks one connection. Timeouts yield an unhealthy status
// with a timed-out detail; they do not propagate.
func (c *Checker) CheckConnection(ctx context.Context, connectionID string) *base.HealthStatus {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	healthy, latency, detail := c.registry.TestConnection(cctx, connectionID)

	status := &base.HealthStatus{
		Healthy:        healthy,
		ResponseTimeMS: latency.Milliseconds(),
		Timestamp:      time.Now().UTC(),
		Details:        map[string]string{"connection_id": connectionID},
	}
	if handle, herr := c.registry.Get(connectionID); herr == nil {
		stats := handle.Stats()
		status.Details["open_connections"] = fmt.Sprintf("%d", stats.OpenConnections)
		status.Details["in_use"] = fmt.Sprintf("%d", stats.InUse)
		status.Details["idle"] = fmt.Sprintf("%d", stats.Idle)
	}
	if detail != nil {
		status.Error = detail.Error()
		if errors.Is(detail, context.DeadlineExceeded) || base.KindOf(detail) == base.KindTimeout {
			status.Details["timed_out"] = fmt.Sprintf("no response within %s", c.timeout)
			status.ResponseTimeMS = c.timeout.Milliseconds()
		}
		c.logger.Printf("Health check failed for '%s': %v", connectionID, detail)
	}
	return status
}

// CheckSystem fans CheckConnection out over every registered id
// concurrently. Zero registered connections is healthy (nothing to be
// unhealthy about); otherwise one healthy connection is enough for an
// overall healthy verdict. Per-connection detail is reported regardless.
func (c *Checker) CheckSystem(ctx context.Context) *base.HealthStatus {
	start := time.Now()
	ids := c.registry.IDs()

	if len(ids) == 0 {
		return &base.HealthStatus{
			Healthy:   true,
			Timestamp: time.Now().UTC(),
			Details:   map[string]string{"connections": "0", "message": "no connections registered"},
		}
	}

	checks := make(map[string]*base.HealthStatus, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			status := c.CheckConnection(ctx, id)
			mu.Lock()
			checks[id] = status
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	healthyCount := 0
	for _, status := range checks {
		if status.Healthy {
			healthyCount++
		}
	}

	return &base.HealthStatus{
		Healthy:        healthyCount > 0,
		ResponseTimeMS: time.Since(start).Milliseconds(),
		Timestamp:      time.Now().UTC(),
		Details: map[string]string{
			"connections": fmt.Sprintf("%d", len(ids)),
			"healthy":     fmt.Sprintf("%d", healthyCount),
			"unhealthy":   fmt.Sprintf("%d", len(ids)-healthyCount),
		},
		Checks: checks,
	}
}
