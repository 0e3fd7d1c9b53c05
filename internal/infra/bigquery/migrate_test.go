package bigquery

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_view.sql":         {Data: []byte("CREATE VIEW `{{PROJECT_ID}}.{{DATASET_ID}}.v` AS SELECT 1;")},
		"0001_init.sql":         {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64);")},
		"001_invalid.sql":       {Data: []byte("SELECT 1;")},
		"0003_missing_ext":      {Data: []byte("SELECT 1;")},
		"invalid_0004_test.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := ReadMigrations(fsys, "proj", "finance")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "init", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `proj.finance.t` (id INT64);", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)

	other, err := ReadMigrations(fsys, "other", "dataset")
	require.NoError(t, err)
	assert.Equal(t, migrations[0].Checksum, other[0].Checksum, "checksum ignores placeholders")
	assert.NotEqual(t, migrations[0].Checksum, migrations[1].Checksum)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 2;")},
	}
	_, err := ReadMigrations(fsys, "p", "d")
	assert.ErrorContains(t, err, "duplicate migration version 0001")
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := EmbeddedMigrations("proj", "finance")
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, "daily_predictions", migrations[0].Name)
	assert.Contains(t, migrations[0].SQL, "`proj.finance.daily_predictions`")
	assert.Contains(t, migrations[0].SQL, "PARTITION BY prediction_date")
	for _, m := range migrations {
		assert.NotContains(t, m.SQL, "{{")
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "init", Checksum: "aaa"},
		{Version: 2, Name: "view", Checksum: "bbb"},
	}

	pending, err := Pending(migrations, nil)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pending, err = Pending(migrations, []AppliedMigration{{Version: 1, Checksum: "aaa"}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)

	_, err = Pending(migrations, []AppliedMigration{{Version: 1, Checksum: "changed"}})
	assert.ErrorContains(t, err, "0001_init was modified")
}
