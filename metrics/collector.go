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

// Package metrics records per-execution outcomes keyed by connection id and
// derives rolling aggregates. The collector is called exactly once per
// completed execution: one call per query, one per batch, one per
// transaction as a whole.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultHistorySize bounds the ring of recent execution records kept per
// connection. The ring is diagnostic only; aggregates are maintained
// incrementally and never replay it.
const DefaultHistorySize = 100

// Prometheus metrics
var (
	promExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbgate_executions_total",
			Help: "Total number of statement executions through the gateway",
		},
		[]string{"connection_id", "status"},
	)
	promExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbgate_execution_duration_milliseconds",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"connection_id"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promExecutionsTotal)
	prometheus.MustRegister(promExecutionDuration)
}

// Record is one execution outcome retained in the diagnostic ring.
type Record struct {
	Timestamp  int64  `json:"timestamp"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Operation  string `json:"operation,omitempty"`
}

// ConnectionMetrics is the aggregate view for one connection id.
type ConnectionMetrics struct {
	ConnectionID           string   `json:"connection_id"`
	TotalQueries           int64    `json:"total_queries"`
	SuccessfulQueries      int64    `json:"successful_queries"`
	FailedQueries          int64    `json:"failed_queries"`
	TotalExecutionTimeMS   int64    `json:"total_execution_time_ms"`
	AverageExecutionTimeMS float64  `json:"average_execution_time_ms"`
	LastQueryTime          int64    `json:"last_query_time,omitempty"` // unix seconds, 0 = never
	RecentQueries          []Record `json:"recent_queries,omitempty"`
}

// GlobalMetrics is the same shape aggregated across all connection ids.
type GlobalMetrics struct {
	TotalQueries           int64     `json:"total_queries"`
	SuccessfulQueries      int64     `json:"successful_queries"`
	FailedQueries          int64     `json:"failed_queries"`
	TotalExecutionTimeMS   int64     `json:"total_execution_time_ms"`
	AverageExecutionTimeMS float64   `json:"average_execution_time_ms"`
	Connections            int       `json:"connections"`
	StartTime              time.Time `json:"start_time"`
	UptimeSeconds          int64     `json:"uptime_seconds"`
	QueriesPerSecond       float64   `json:"queries_per_second"`
}

type connState struct {
	total   int64
	success int64
	failed  int64
	totalMS int64
	avgMS   float64
	last    int64

	ring []Record
	head int // next write position once the ring is full
	full bool
}

func (s *connState) push(rec Record, capacity int) {
	if !s.full {
		s.ring = append(s.ring, rec)
		if len(s.ring) == capacity {
			s.full = true
		}
		return
	}
	s.ring[s.head] = rec
	s.head = (s.head + 1) % capacity
}

// recent unrolls the ring oldest-first.
func (s *connState) recent() []Record {
	out := make([]Record, 0, len(s.ring))
	if s.full {
		out = append(out, s.ring[s.head:]...)
		out = append(out, s.ring[:s.head]...)
		return out
	}
	return append(out, s.ring...)
}

// Collector aggregates execution outcomes. One logical record append per
// completed execution, safe under concurrent callers.
type Collector struct {
	mu          sync.RWMutex
	perConn     map[string]*connState
	global      connState
	historySize int
	startTime   time.Time
}

// NewCollector creates a collector with the given diagnostic history size
// per connection (DefaultHistorySize when <= 0).
func NewCollector(historySize int) *Collector {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Collector{
		perConn:     make(map[string]*connState),
		historySize: historySize,
		startTime:   time.Now().UTC(),
	}
}

// Record folds one execution outcome into the per-connection and global
// aggregates. The running average is maintained incrementally
// (new = (old*(n-1) + value) / n) so recording stays O(1).
func (c *Collector) Record(connectionID string, elapsedMS int64, success bool, operation string) {
	now := time.Now().Unix()
	rec := Record{Timestamp: now, DurationMS: elapsedMS, Success: success, Operation: operation}

	c.mu.Lock()
	state, ok := c.perConn[connectionID]
	if !ok {
		state = &connState{}
		c.perConn[connectionID] = state
	}
	for _, s := range []*connState{state, &c.global} {
		s.total++
		s.totalMS += elapsedMS
		s.avgMS = (s.avgMS*float64(s.total-1) + float64(elapsedMS)) / float64(s.total)
		s.last = now
		if success {
			s.success++
		} else {
			s.failed++
		}
	}
	state.push(rec, c.historySize)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "failure"
	}
	promExecutionsTotal.WithLabelValues(connectionID, status).Inc()
	promExecutionDuration.WithLabelValues(connectionID).Observe(float64(elapsedMS))
}

// GetConnectionMetrics returns the aggregate for one connection id. Unknown
// ids yield the zero-valued aggregate rather than an error.
func (c *Collector) GetConnectionMetrics(connectionID string) ConnectionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := ConnectionMetrics{ConnectionID: connectionID}
	state, ok := c.perConn[connectionID]
	if !ok {
		return m
	}
	m.TotalQueries = state.total
	m.SuccessfulQueries = state.success
	m.FailedQueries = state.failed
	m.TotalExecutionTimeMS = state.totalMS
	m.AverageExecutionTimeMS = state.avgMS
	m.LastQueryTime = state.last
	m.RecentQueries = state.recent()
	return m
}

// GetGlobalMetrics returns the process-wide aggregate plus uptime-derived
// throughput.
func (c *Collector) GetGlobalMetrics() GlobalMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uptime := time.Since(c.startTime)
	g := GlobalMetrics{
		TotalQueries:           c.global.total,
		SuccessfulQueries:      c.global.success,
		FailedQueries:          c.global.failed,
		TotalExecutionTimeMS:   c.global.totalMS,
		AverageExecutionTimeMS: c.global.avgMS,
		Connections:            len(c.perConn),
		StartTime:              c.startTime,
		UptimeSeconds:          int64(uptime.Seconds()),
	}
	if secs := uptime.Seconds(); secs > 0 {
		g.QueriesPerSecond = float64(c.global.total) / secs
	}
	return g
}

// Reset clears the aggregate for one connection id, or every aggregate when
// id is empty.
func (c *Collector) Reset(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if connectionID == "" {
		c.perConn = make(map[string]*connState)
		c.global = connState{}
		return
	}
	delete(c.perConn, connectionID)
}
