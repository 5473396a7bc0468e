package database

import (
	"io/fs"
	"sort"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/migrations"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.True(t, sort.StringsAreSorted(names))
	assert.Equal(t, "00001_timetable_resources.sql", names[0])
}

func TestMigrateRejectsUnknownCommand(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = Migrate(sqlx.NewDb(db, "sqlmock"), migrations.FS, ".", "sideways")
	assert.EqualError(t, err, `unknown migration command "sideways"`)
}
