//go:build integration

package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/remote"
)

func TestMySQLBackend(t *testing.T) {
	ctx := t.Context()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("leafscan"),
		tcmysql.WithUsername("leafscan"),
		tcmysql.WithPassword("leafscan"),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	require.NoError(t, err, "failed to start mysql container")

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	b, err := Open(Config{Driver: "mysql", DSN: dsn, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	_, err = b.Farms().Create(ctx, model.Farm{ID: "f1", UserID: "u1", Name: "North", Status: model.StatusActive, AddedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	_, err = b.Farms().Create(ctx, model.Farm{ID: "f1", UserID: "u1", AddedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, remote.ErrAlreadyExists)

	updated, err := b.Farms().Update(ctx, model.NewPatch("f1", map[string]any{"status": model.StatusTrashed}))
	require.NoError(t, err)
	assert.Equal(t, "North", updated.Name)
	assert.Equal(t, model.StatusTrashed, updated.Status)

	farms, err := b.Farms().List(ctx, remote.Scope{UserID: "u1", ExcludeStatuses: []model.RecordStatus{model.StatusDeleted}})
	require.NoError(t, err)
	require.Len(t, farms, 1)
	assert.Equal(t, model.StatusTrashed, farms[0].Status)
}
