package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_RegistersServeAndMigrate(t *testing.T) {
	root := newRootCmd()

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Use)

	migrate, _, err := root.Find([]string{"migrate", "up"})
	require.NoError(t, err)
	assert.Equal(t, "up", migrate.Use)
}

func TestMigrateUpCmd_DefaultsMigrationsDir(t *testing.T) {
	migrate := migrateCmd()

	up, _, err := migrate.Find([]string{"up"})
	require.NoError(t, err)

	dir, err := up.Flags().GetString("dir")
	require.NoError(t, err)
	assert.Equal(t, "./migrations", dir)
}
