// Command migrate applies the versioned SQL files under migrations/<backend>
// to Postgres or BigQuery and records them in schema_migrations.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/financinha/internal/config"
	"github.com/dvloznov/financinha/internal/logger"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// migrator is one backend's view of schema_migrations.
type migrator interface {
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

// migrationPattern matches 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Config incomplete, relying on flags")
		cfg = &config.Config{StoreBackend: config.BackendPostgres, BigQueryDataset: "financinha"}
	}

	backend := cfg.StoreBackend
	if backend == config.BackendMemory {
		backend = config.BackendPostgres
	}

	var (
		backendFlag   = flag.String("backend", backend, "Target backend: postgres or bigquery")
		databaseURL   = flag.String("database-url", cfg.DatabaseURL, "Postgres connection string (or set DATABASE_URL)")
		projectID     = flag.String("project", cfg.BigQueryProject, "GCP project ID (or set BIGQUERY_PROJECT)")
		datasetID     = flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "", "Path to migrations directory (default migrations/<backend>)")
		printSchema   = flag.Bool("print-schema", false, "Print the DDL derived from the store schema and exit")
	)
	flag.Parse()

	if *printSchema {
		ddl, err := renderSchema(*backendFlag, *projectID, *datasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to render schema")
		}
		fmt.Print(ddl)
		return
	}

	dir := *migrationsDir
	if dir == "" {
		dir = filepath.Join("migrations", *backendFlag)
	}

	ctx := context.Background()

	var m migrator
	vars := map[string]string{}
	switch *backendFlag {
	case config.BackendPostgres:
		if *databaseURL == "" {
			log.Fatal().Msg("-database-url flag or DATABASE_URL is required for postgres")
		}
		pool, err := pgxpool.New(ctx, *databaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		m = &postgresMigrator{pool: pool}
		log.Info().Msg("Connected to Postgres")
	case config.BackendBigQuery:
		if *projectID == "" {
			log.Fatal().Msg("-project flag or BIGQUERY_PROJECT is required for bigquery")
		}
		client, err := bigquery.NewClient(ctx, *projectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery client")
		}
		m = &bigqueryMigrator{client: client, project: *projectID, dataset: *datasetID}
		vars["{{PROJECT_ID}}"] = *projectID
		vars["{{DATASET_ID}}"] = *datasetID
		log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")
	default:
		log.Fatal().Str("backend", *backendFlag).Msg("Unknown backend")
	}
	defer m.Close()

	migrations, err := readMigrations(dir, vars)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	count, err := run(ctx, m, migrations, *appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if count == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", count).Msg("Successfully applied migrations")
	}
}

// run applies every migration not yet recorded and returns how many ran.
// A recorded migration whose file changed is reported but not re-applied.
func run(ctx context.Context, m migrator, migrations []Migration, appliedBy string, log zerolog.Logger) (int, error) {
	if err := m.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("run: ensuring schema_migrations: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("run: reading applied migrations: %w", err)
	}
	checksums := make(map[int]string, len(applied))
	for _, am := range applied {
		checksums[am.Version] = am.Checksum
	}

	count := 0
	for _, mig := range migrations {
		label := fmt.Sprintf("%04d_%s", mig.Version, mig.Name)
		if sum, ok := checksums[mig.Version]; ok {
			if sum != "" && sum != mig.Checksum {
				log.Warn().Str("migration", label).Msg("Applied migration has changed on disk")
			}
			log.Debug().Str("migration", label).Msg("Skipping, already applied")
			continue
		}

		log.Info().Str("migration", label).Msg("Applying")
		if err := m.Apply(ctx, mig, appliedBy); err != nil {
			return count, fmt.Errorf("run: %s: %w", label, err)
		}
		count++
	}
	return count, nil
}

// readMigrations reads all migration files from dir, substituting vars in
// their SQL. Checksums are taken before substitution so the same file
// applied to another project or dataset is still recognised.
func readMigrations(dir string, vars map[string]string) ([]Migration, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		// Try from the repository root when run inside cmd/migrate.
		alt := filepath.Join("..", "..", dir)
		if _, err := os.Stat(alt); err != nil {
			return nil, fmt.Errorf("readMigrations: directory not found: %s", dir)
		}
		dir = alt
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("readMigrations: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("readMigrations: reading %s: %w", file.Name(), err)
		}

		sql := string(content)
		for k, v := range vars {
			sql = strings.ReplaceAll(sql, k, v)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("readMigrations: duplicate version %04d", migrations[i].Version)
		}
	}
	return migrations, nil
}

// renderSchema derives CREATE TABLE statements from the store schema. The
// migration files are the source of truth; this output is for comparing
// them against the columns the store writes.
func renderSchema(backend, project, dataset string) (string, error) {
	var b strings.Builder
	for _, kind := range store.Kinds() {
		table, _ := store.Schema(kind)

		var name string
		switch backend {
		case config.BackendPostgres:
			name = string(kind)
		case config.BackendBigQuery:
			name = fmt.Sprintf("`%s.%s.%s`", project, dataset, kind)
		default:
			return "", fmt.Errorf("renderSchema: unknown backend %q", backend)
		}

		lines := []string{
			fmt.Sprintf("  %s %s NOT NULL", store.ColID, columnType(backend, store.TypeString)),
			fmt.Sprintf("  %s %s NOT NULL", store.ColUserID, columnType(backend, store.TypeString)),
			fmt.Sprintf("  %s %s NOT NULL", store.ColCreatedAt, timestampType(backend)),
		}
		for _, c := range table.Columns {
			line := fmt.Sprintf("  %s %s", c.Name, columnType(backend, c.Type))
			if !c.Nullable {
				line += " NOT NULL"
			}
			lines = append(lines, line)
		}
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n%s\n);\n\n", name, strings.Join(lines, ",\n"))
	}
	return b.String(), nil
}

func columnType(backend string, t store.ColumnType) string {
	bq := backend == config.BackendBigQuery
	switch t {
	case store.TypeMoney:
		return "NUMERIC"
	case store.TypeDate:
		return "DATE"
	case store.TypeBool:
		if bq {
			return "BOOL"
		}
		return "BOOLEAN"
	case store.TypeInt:
		if bq {
			return "INT64"
		}
		return "BIGINT"
	}
	if bq {
		return "STRING"
	}
	return "TEXT"
}

func timestampType(backend string) string {
	if backend == config.BackendBigQuery {
		return "TIMESTAMP"
	}
	return "TIMESTAMPTZ"
}

// postgresMigrator applies each migration and its bookkeeping row in one
// transaction.
type postgresMigrator struct {
	pool *pgxpool.Pool
}

func (p *postgresMigrator) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	return err
}

func (p *postgresMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, err
		}
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

func (p *postgresMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("executing: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name, checksum, applied_by) VALUES ($1, $2, $3, $4)`,
			m.Version, m.Name, m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		return nil
	})
}

func (p *postgresMigrator) Close() error {
	p.pool.Close()
	return nil
}

// bigqueryMigrator runs migrations as query jobs. BigQuery DDL is not
// transactional, so a failed migration may leave earlier statements applied.
type bigqueryMigrator struct {
	client  *bigquery.Client
	project string
	dataset string
}

func (b *bigqueryMigrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", b.project, b.dataset)
}

func (b *bigqueryMigrator) EnsureTable(ctx context.Context) error {
	return b.exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)`, b.table()), nil)
}

func (b *bigqueryMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	q := b.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC`, b.table()))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (b *bigqueryMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := b.exec(ctx, m.SQL, nil); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	err := b.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`, b.table()),
		[]bigquery.QueryParameter{
			{Name: "version", Value: m.Version},
			{Name: "name", Value: m.Name},
			{Name: "checksum", Value: m.Checksum},
			{Name: "applied_by", Value: appliedBy},
		})
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}

func (b *bigqueryMigrator) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := b.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (b *bigqueryMigrator) Close() error {
	return b.client.Close()
}
