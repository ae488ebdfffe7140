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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbgate/gateway/backends/base"
	"dbgate/gateway/backends/postgres"
)

func validConfig(id string) base.ConnectionConfig {
	return base.ConnectionConfig{
		ID:       id,
		Type:     "postgres",
		Host:     "localhost",
		Port:     5432,
		Database: "appdb",
		User:     "app",
		Password: "secret",
		PoolMax:  5,
		PoolMin:  1,
	}
}

// newMockRegistry returns a registry whose opener hands out sqlmock-backed
// handles. Mocks are returned in registration order.
func newMockRegistry(t *testing.T) (*Registry, *[]sqlmock.Sqlmock) {
	t.Helper()
	mocks := &[]sqlmock.Sqlmock{}
	reg := New(postgres.New())
	reg.SetOpener(func(driver, dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			return nil, err
		}
		mock.ExpectPing()
		*mocks = append(*mocks, mock)
		return db, nil
	})
	return reg, mocks
}

func TestRegisterAndGet(t *testing.T) {
	reg, _ := newMockRegistry(t)

	err := reg.Register(context.Background(), validConfig("c1"))
	require.NoError(t, err)

	handle, err := reg.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", handle.Config().ID)
	assert.Equal(t, "postgres", handle.Dialect().Name())
	assert.True(t, handle.Config().Active)
	assert.False(t, handle.Config().CreatedAt.IsZero())
	assert.Equal(t, 1, reg.Count())
}

func TestRegisterDuplicateID(t *testing.T) {
	reg, _ := newMockRegistry(t)

	require.NoError(t, reg.Register(context.Background(), validConfig("c1")))

	err := reg.Register(context.Background(), validConfig("c1"))
	require.Error(t, err)
	assert.Equal(t, base.KindConnection, base.KindOf(err))
	assert.Equal(t, base.CodeAlreadyExists, base.CodeOf(err))
}

func TestRegisterValidation(t *testing.T) {
	reg, _ := newMockRegistry(t)

	tests := []struct {
		name   string
		mutate func(*base.ConnectionConfig)
	}{
		{"empty id", func(c *base.ConnectionConfig) { c.ID = "" }},
		{"bad host", func(c *base.ConnectionConfig) { c.Host = "host name;" }},
		{"port too low", func(c *base.ConnectionConfig) { c.Port = 0 }},
		{"port too high", func(c *base.ConnectionConfig) { c.Port = 70000 }},
		{"bad database identifier", func(c *base.ConnectionConfig) { c.Database = "app-db" }},
		{"bad user identifier", func(c *base.ConnectionConfig) { c.User = "app user" }},
		{"pool too large", func(c *base.ConnectionConfig) { c.PoolMax = 101 }},
		{"pool min above max", func(c *base.ConnectionConfig) { c.PoolMin = 6 }},
		{"unsupported type", func(c *base.ConnectionConfig) { c.Type = "oracle" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig("bad")
			tt.mutate(&cfg)
			err := reg.Register(context.Background(), cfg)
			require.Error(t, err)
			assert.Equal(t, base.CodeInvalidParameters, base.CodeOf(err))
		})
	}
	assert.Equal(t, 0, reg.Count())
}

func TestRegisterUnreachableBackend(t *testing.T) {
	reg := New(postgres.New())
	reg.SetOpener(func(driver, dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			return nil, err
		}
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		mock.ExpectClose()
		return db, nil
	})

	err := reg.Register(context.Background(), validConfig("c1"))
	require.Error(t, err)
	assert.Equal(t, base.CodeBackendUnreachable, base.CodeOf(err))
	assert.Equal(t, 0, reg.Count())
}

func TestRegisterDefaultsPoolSizes(t *testing.T) {
	reg, _ := newMockRegistry(t)

	cfg := validConfig("c1")
	cfg.PoolMax = 0
	cfg.PoolMin = 0
	require.NoError(t, reg.Register(context.Background(), cfg))

	handle, err := reg.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, 10, handle.Config().PoolMax)
	assert.Equal(t, 2, handle.Config().PoolMin)
}

func TestRegisterDoesNotBlockOtherConnections(t *testing.T) {
	reg := New(postgres.New())
	var calls int
	reg.SetOpener(func(driver, dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			return nil, err
		}
		calls++
		if calls == 1 {
			mock.ExpectPing()
		} else {
			mock.ExpectPing().WillDelayFor(500 * time.Millisecond)
		}
		return db, nil
	})

	require.NoError(t, reg.Register(context.Background(), validConfig("c1")))

	slowDone := make(chan error, 1)
	go func() {
		slowDone <- reg.Register(context.Background(), validConfig("c2"))
	}()

	// Give the slow registration time to reach its ping.
	time.Sleep(50 * time.Millisecond)

	// Lookups on other connections must not wait out the ping.
	start := time.Now()
	_, err := reg.Get("c1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond,
		"Get stalled behind an in-flight registration")
	assert.NotEmpty(t, reg.List())

	select {
	case err := <-slowDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("slow registration never finished")
	}
	assert.Equal(t, 2, reg.Count())
}

func TestRegisterConcurrentSameIDIsRejected(t *testing.T) {
	reg := New(postgres.New())
	reg.SetOpener(func(driver, dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			return nil, err
		}
		mock.ExpectPing().WillDelayFor(300 * time.Millisecond)
		return db, nil
	})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- reg.Register(context.Background(), validConfig("c1"))
	}()
	time.Sleep(50 * time.Millisecond)

	// The id is reserved while the first registration is still pinging.
	err := reg.Register(context.Background(), validConfig("c1"))
	require.Error(t, err)
	assert.Equal(t, base.CodeAlreadyExists, base.CodeOf(err))

	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, reg.Count())
}

func TestAcquireTimesOutWhenPoolExhausted(t *testing.T) {
	reg, _ := newMockRegistry(t)
	cfg := validConfig("c1")
	cfg.PoolMax = 1
	cfg.PoolMin = 1
	require.NoError(t, reg.Register(context.Background(), cfg))

	handle, err := reg.Get("c1")
	require.NoError(t, err)

	conn, err := handle.Acquire(context.Background())
	require.NoError(t, err)
	defer handle.Release(conn)

	// The single slot is out; waiting past the deadline is a TimeoutError,
	// distinguishable from a backend QueryError.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = handle.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, base.KindTimeout, base.KindOf(err))
	assert.Equal(t, base.CodeTimeout, base.CodeOf(err))
}

func TestGetNotFound(t *testing.T) {
	reg, _ := newMockRegistry(t)

	_, err := reg.Get("missing")
	require.Error(t, err)
	assert.Equal(t, base.KindConnection, base.KindOf(err))
	assert.Equal(t, base.CodeNotFound, base.CodeOf(err))
}

func TestRemove(t *testing.T) {
	reg, mocks := newMockRegistry(t)

	require.NoError(t, reg.Register(context.Background(), validConfig("c1")))
	(*mocks)[0].ExpectClose()

	require.NoError(t, reg.Remove(context.Background(), "c1"))
	assert.Equal(t, 0, reg.Count())

	_, err := reg.Get("c1")
	assert.Equal(t, base.CodeNotFound, base.CodeOf(err))
}

func TestRemoveNotFound(t *testing.T) {
	reg, _ := newMockRegistry(t)

	err := reg.Remove(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, base.CodeNotFound, base.CodeOf(err))
}

func TestRemoveWaitsForInFlightCheckouts(t *testing.T) {
	reg, mocks := newMockRegistry(t)
	require.NoError(t, reg.Register(context.Background(), validConfig("c1")))

	handle, err := reg.Get("c1")
	require.NoError(t, err)

	conn, err := handle.Acquire(context.Background())
	require.NoError(t, err)

	(*mocks)[0].ExpectClose()

	removed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		removed <- reg.Remove(ctx, "c1")
	}()

	// The id disappears immediately; new checkouts are refused while the
	// in-flight one is still out.
	require.Eventually(t, func() bool {
		_, err := reg.Get("c1")
		return err != nil
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		c, err := handle.Acquire(context.Background())
		if err == nil {
			handle.Release(c)
			return false
		}
		return base.CodeOf(err) == base.CodeNotFound
	}, time.Second, 10*time.Millisecond)

	select {
	case <-removed:
		t.Fatal("Remove returned before the checkout was released")
	case <-time.After(50 * time.Millisecond):
	}

	handle.Release(conn)

	select {
	case err := <-removed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Remove did not finish after the checkout was released")
	}
}

func TestTestConnection(t *testing.T) {
	reg, mocks := newMockRegistry(t)
	require.NoError(t, reg.Register(context.Background(), validConfig("c1")))

	(*mocks)[0].ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	healthy, latency, detail := reg.TestConnection(context.Background(), "c1")
	assert.True(t, healthy)
	assert.NoError(t, detail)
	assert.GreaterOrEqual(t, latency, time.Duration(0))
}

func TestTestConnectionBackendFailure(t *testing.T) {
	reg, mocks := newMockRegistry(t)
	require.NoError(t, reg.Register(context.Background(), validConfig("c1")))

	(*mocks)[0].ExpectQuery("SELECT 1").
		WillReturnError(errors.New("server closed the connection"))

	healthy, _, detail := reg.TestConnection(context.Background(), "c1")
	assert.False(t, healthy)
	assert.Error(t, detail)
}

func TestTestConnectionUnknownID(t *testing.T) {
	reg, _ := newMockRegistry(t)

	healthy, _, detail := reg.TestConnection(context.Background(), "missing")
	assert.False(t, healthy)
	assert.Equal(t, base.CodeNotFound, base.CodeOf(detail))
}

func TestListIsSortedAndRedacted(t *testing.T) {
	reg, _ := newMockRegistry(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(context.Background(), validConfig(id)))
	}

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, "mid", infos[1].ID)
	assert.Equal(t, "zeta", infos[2].ID)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.IDs())
}

func TestCloseAll(t *testing.T) {
	reg, mocks := newMockRegistry(t)

	require.NoError(t, reg.Register(context.Background(), validConfig("c1")))
	require.NoError(t, reg.Register(context.Background(), validConfig("c2")))
	for _, mock := range *mocks {
		mock.ExpectClose()
	}

	reg.CloseAll(context.Background())
	assert.Equal(t, 0, reg.Count())
}
