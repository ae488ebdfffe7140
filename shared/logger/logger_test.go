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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prevWriter := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prevWriter)
		log.SetFlags(prevFlags)
	}()
	fn()
	return buf.String()
}

func TestLogEntryShape(t *testing.T) {
	l := New("executor")

	out := captureLog(t, func() {
		l.Info("c1", "req-123", "query executed", map[string]interface{}{
			"row_count": 3,
		})
	})

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &entry))
	assert.Equal(t, INFO, entry.Level)
	assert.Equal(t, "executor", entry.Component)
	assert.Equal(t, "c1", entry.ConnectionID)
	assert.Equal(t, "req-123", entry.RequestID)
	assert.Equal(t, "query executed", entry.Message)
	assert.EqualValues(t, 3, entry.Fields["row_count"])
	assert.NotEmpty(t, entry.Timestamp)
}

func TestLogLevels(t *testing.T) {
	l := New("test")

	for level, fn := range map[LogLevel]func(string, string, string, map[string]interface{}){
		DEBUG: l.Debug,
		INFO:  l.Info,
		WARN:  l.Warn,
		ERROR: l.Error,
	} {
		out := captureLog(t, func() { fn("", "", "message", nil) })
		assert.Contains(t, out, `"level":"`+string(level)+`"`)
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := New("test")

	out := captureLog(t, func() {
		l.InfoWithDuration("c1", "req-1", "done", 42, nil)
	})

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &entry))
	assert.EqualValues(t, 42, entry.Fields["duration_ms"])
}

func TestEmptyIDsAreOmitted(t *testing.T) {
	l := New("test")

	out := captureLog(t, func() { l.Info("", "", "no ids", nil) })
	assert.NotContains(t, out, "connection_id")
	assert.NotContains(t, out, "request_id")
}
