package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/financinha/internal/config"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init.sql", true, "0001", "init"},
		{"0002_add_notes_index.sql", true, "0002", "add_notes_index"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.version, m[1])
			assert.Equal(t, tt.name, m[2])
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0002_second.sql", "SELECT 2;")
	writeFile(t, dir, "0001_first.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id STRING);")
	writeFile(t, dir, "README.md", "ignored")

	got, err := readMigrations(dir, map[string]string{"{{PROJECT_ID}}": "p", "{{DATASET_ID}}": "d"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "CREATE TABLE `p.d.t` (id STRING);", got[0].SQL)
	assert.Equal(t, 2, got[1].Version)

	// The checksum is taken from the file, not the substituted SQL.
	other, err := readMigrations(dir, map[string]string{"{{PROJECT_ID}}": "x", "{{DATASET_ID}}": "y"})
	require.NoError(t, err)
	assert.Equal(t, got[0].Checksum, other[0].Checksum)
	assert.NotEqual(t, got[0].Checksum, got[1].Checksum)
}

func TestReadMigrations_Errors(t *testing.T) {
	_, err := readMigrations(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, dir, "0001_a.sql", "SELECT 1;")
	writeFile(t, dir, "0001_b.sql", "SELECT 1;")
	_, err = readMigrations(dir, nil)
	assert.ErrorContains(t, err, "duplicate version 0001")
}

type fakeMigrator struct {
	applied  []AppliedMigration
	ran      []string
	failOn   int
	ensured  bool
	appliedE error
}

func (f *fakeMigrator) EnsureTable(ctx context.Context) error {
	f.ensured = true
	return nil
}

func (f *fakeMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	return f.applied, f.appliedE
}

func (f *fakeMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if m.Version == f.failOn {
		return errors.New("syntax error")
	}
	f.ran = append(f.ran, m.Name)
	f.applied = append(f.applied, AppliedMigration{Version: m.Version, Name: m.Name, Checksum: m.Checksum, AppliedBy: appliedBy})
	return nil
}

func (f *fakeMigrator) Close() error { return nil }

func TestRun(t *testing.T) {
	log := zerolog.New(io.Discard)
	migrations := []Migration{
		{Version: 1, Name: "init", Checksum: "a"},
		{Version: 2, Name: "indexes", Checksum: "b"},
	}

	f := &fakeMigrator{applied: []AppliedMigration{{Version: 1, Name: "init", Checksum: "changed"}}}
	n, err := run(context.Background(), f, migrations, "test", log)
	require.NoError(t, err)
	assert.True(t, f.ensured)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"indexes"}, f.ran)

	n, err = run(context.Background(), f, migrations, "test", log)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_StopsOnFailure(t *testing.T) {
	log := zerolog.New(io.Discard)
	migrations := []Migration{
		{Version: 1, Name: "init"},
		{Version: 2, Name: "broken"},
		{Version: 3, Name: "later"},
	}

	f := &fakeMigrator{failOn: 2}
	n, err := run(context.Background(), f, migrations, "test", log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_broken")
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"init"}, f.ran)

	_, err = run(context.Background(), &fakeMigrator{appliedE: errors.New("denied")}, migrations, "test", log)
	assert.ErrorContains(t, err, "denied")
}

func TestRenderSchema(t *testing.T) {
	pg, err := renderSchema(config.BackendPostgres, "", "")
	require.NoError(t, err)
	assert.Contains(t, pg, "CREATE TABLE IF NOT EXISTS transactions (")
	assert.Contains(t, pg, "  amount NUMERIC NOT NULL")
	assert.Contains(t, pg, "  account_id TEXT,\n")
	assert.Contains(t, pg, "  affects_cash BOOLEAN NOT NULL")

	bq, err := renderSchema(config.BackendBigQuery, "proj", "ds")
	require.NoError(t, err)
	assert.Contains(t, bq, "CREATE TABLE IF NOT EXISTS `proj.ds.credit_cards` (")
	assert.Contains(t, bq, "  closing_day INT64 NOT NULL")
	assert.Contains(t, bq, "  created_at TIMESTAMP NOT NULL")

	_, err = renderSchema("sqlite", "", "")
	assert.Error(t, err)
}

// The checked-in migrations must create every column the store writes.
func TestMigrationFilesCoverSchema(t *testing.T) {
	for _, backend := range []string{config.BackendPostgres, config.BackendBigQuery} {
		t.Run(backend, func(t *testing.T) {
			migrations, err := readMigrations(filepath.Join("migrations", backend), nil)
			require.NoError(t, err)
			require.NotEmpty(t, migrations)

			var all strings.Builder
			for _, m := range migrations {
				all.WriteString(m.SQL)
			}
			sql := all.String()

			for _, kind := range store.Kinds() {
				table, _ := store.Schema(kind)
				assert.Contains(t, sql, string(kind))
				for _, c := range table.Columns {
					assert.Contains(t, sql, " "+c.Name+" ", "%s.%s", kind, c.Name)
				}
			}
		})
	}
}
