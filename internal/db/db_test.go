package db

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":          {Data: []byte("SELECT 10;")},
		"002_second_step.sql":    {Data: []byte("SELECT 2;")},
		"001_first.sql":          {Data: []byte("SELECT 1;")},
		"README.md":              {Data: []byte("ignored")},
		"notanumber_skipped.sql": {Data: []byte("ignored")},
		"nounderscore.sql":       {Data: []byte("ignored")},
	}
	got, err := readMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{got[0].version, got[1].version, got[2].version})
	assert.Equal(t, "second_step", got[1].name)
	assert.Equal(t, "SELECT 10;", got[2].sql)
}

func TestReadMigrationsDuplicateVersion(t *testing.T) {
	_, err := readMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	})
	assert.ErrorContains(t, err, "share version 1")
}

func TestEmbeddedMigrations(t *testing.T) {
	sub, err := fs.Sub(embedded, "migrations")
	require.NoError(t, err)
	got, err := readMigrations(sub)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].version)
	assert.Contains(t, got[0].sql, "conversation_objects")
}

func TestSSLMode(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db?sslmode=disable", withSSLDisabled("postgres://u@h/db"))
	assert.Equal(t, "postgres://u@h/db?x=1&sslmode=disable", withSSLDisabled("postgres://u@h/db?x=1"))
	assert.Equal(t, "host=h dbname=db sslmode=disable", withSSLDisabled("host=h dbname=db"))

	assert.True(t, hasSSLMode("postgres://u@h/db?sslmode=require"))
	assert.True(t, hasSSLMode("host=h SSLMODE = verify-full"))
	assert.False(t, hasSSLMode("postgres://u@h/db"))
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{MaxOpenConns: 3}.withDefaults()
	assert.Equal(t, 3, o.MaxOpenConns)
	assert.Equal(t, 2, o.MaxIdleConns)
	assert.NotZero(t, o.ConnMaxLifetime)
	assert.NotZero(t, o.PingTimeout)
}

func TestNewRequiresConnectionString(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
