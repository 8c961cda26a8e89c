package migrations_test

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upqueue/db/migrations"
)

func TestEmbeddedMigrations_PairedAndContiguous(t *testing.T) {
	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	count := 0
	for {
		count++
		up, _, err := src.ReadUp(version)
		require.NoError(t, err, "up %d", version)
		_ = up.Close()
		down, _, err := src.ReadDown(version)
		require.NoError(t, err, "down %d", version)
		_ = down.Close()

		next, err := src.Next(version)
		if err != nil {
			assert.ErrorIs(t, err, fs.ErrNotExist)
			break
		}
		assert.Equal(t, version+1, next, fmt.Sprintf("gap after %d", version))
		version = next
	}
	assert.Equal(t, 3, count)
}
