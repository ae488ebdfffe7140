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

package gateway

import "dbgate/gateway/schema"

// AddConnectionRequest carries the parameters for registering a connection.
// Type defaults to "postgres"; pool sizes default to the gateway settings.
type AddConnectionRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"-"`
	PoolSize int    `json:"pool_size,omitempty"`
	PoolMin  int    `json:"pool_min,omitempty"`
}

// AddConnectionResponse reports registration outcome.
type AddConnectionResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
}

// TestConnectionResponse reports one liveness round trip.
type TestConnectionResponse struct {
	IsHealthy      bool   `json:"is_healthy"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// RemoveConnectionResponse reports removal outcome.
type RemoveConnectionResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
}

// TableSchemaResponse wraps a table introspection result.
type TableSchemaResponse struct {
	Success   bool                `json:"success"`
	Schema    *schema.TableSchema `json:"schema,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorType string              `json:"error_type,omitempty"`
}
