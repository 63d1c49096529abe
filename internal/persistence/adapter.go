// Package persistence mirrors the entity stores into a versioned SQLite
// database on the device.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shirou/gopsutil/v3/disk"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/observability/metrics"
)

// SchemaVersion is the on-device schema version this build expects.
// Bumping it discards every local database on the next open.
const SchemaVersion = 3

// Bookkeeping tables next to the entity tables.
const (
	TablePendingResults = "pending_results"
	TableOutbox         = "sync_outbox"
	TableSyncState      = "sync_state"
	tableSchemaMeta     = "schema_meta"
)

// KnownTables is the fixed table set created on open.
var KnownTables = []string{
	model.TableFarms,
	model.TableTrees,
	model.TableImages,
	model.TableAnalyses,
	model.TableAnalyzedImages,
	model.TableDiseasesIdentified,
	model.TableDiseases,
	model.TableFeedbacks,
	model.TableFeedbackResponses,
	model.TableTrash,
	model.TablePendingItems,
	TablePendingResults,
	TableOutbox,
	TableSyncState,
}

// Config selects the database file and the schema it must carry.
type Config struct {
	Dir           string
	Name          string        // file name, e.g. leafscan.db
	SchemaVersion int           // expected version, defaults to SchemaVersion
	MinFreeBytes  uint64        // refuse to open below this free space; 0 disables the check
	BusyTimeout   time.Duration // how long SQLite waits on a lock before reporting busy
	Metrics       *metrics.StorageMetrics
}

// Row is one stored record.
type Row struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Value     []byte    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

type schemaMeta struct {
	ID        int       `gorm:"column:id;primaryKey"`
	Version   int       `gorm:"column:version"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (schemaMeta) TableName() string { return tableSchemaMeta }

// Adapter is an open on-device database.
type Adapter struct {
	db      *gorm.DB
	path    string
	cfg     Config
	log     logger.Logger
	metrics *metrics.StorageMetrics
	reset   bool
	mu      sync.Mutex
	closed  bool
}

// Open opens or creates the database described by cfg. A stored schema
// version different from the expected one deletes the database file and
// starts over with empty tables. Tables outside KnownTables are dropped.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Name == "" {
		return nil, errors.ValidationError("persistence", "database name is required")
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = time.Second
	}

	log := logger.Global().Module("persistence")

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, storageError(err, "mkdir", cfg.Name)
	}
	if err := checkFreeSpace(cfg.Dir, cfg.MinFreeBytes); err != nil {
		cfg.Metrics.RecordError("open", "quota")
		return nil, err
	}

	a := &Adapter{
		path:    filepath.Join(cfg.Dir, cfg.Name),
		cfg:     cfg,
		log:     log.With(logger.String("db", cfg.Name)),
		metrics: cfg.Metrics,
	}

	if err := a.openDB(); err != nil {
		return nil, err
	}

	version, hasTables, err := a.storedVersion(ctx)
	if err != nil {
		_ = a.closeDB()
		return nil, classify(err, "read_version", cfg.Name)
	}
	if hasTables && version != cfg.SchemaVersion {
		a.log.Warn("schema version mismatch, recreating database",
			logger.Int("stored_version", version),
			logger.Int("expected_version", cfg.SchemaVersion))
		if err := a.destroy(); err != nil {
			return nil, err
		}
		if err := a.openDB(); err != nil {
			return nil, err
		}
		a.reset = true
		a.metrics.RecordSchemaReset()
	}

	if err := a.ensureTables(ctx); err != nil {
		_ = a.closeDB()
		return nil, err
	}

	a.log.Info("database opened",
		logger.String("path", a.path),
		logger.Int("schema_version", cfg.SchemaVersion),
		logger.Bool("reset", a.reset))
	return a, nil
}

func (a *Adapter) openDB() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", a.path, a.cfg.BusyTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLogger(a.log.Module("sql"), 200*time.Millisecond),
	})
	if err != nil {
		return classify(err, "open", a.cfg.Name)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return classify(err, "open", a.cfg.Name)
	}
	// one connection keeps write ordering identical to submission ordering
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return classify(err, "open", a.cfg.Name)
	}
	a.db = db
	return nil
}

// storedVersion returns the schema version on disk and whether the
// database holds any table at all.
func (a *Adapter) storedVersion(ctx context.Context) (int, bool, error) {
	tables, err := a.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return 0, false, err
	}
	tables = slices.DeleteFunc(tables, isInternalTable)
	if len(tables) == 0 {
		return 0, false, nil
	}
	if !slices.Contains(tables, tableSchemaMeta) {
		return 0, true, nil
	}
	var meta schemaMeta
	res := a.db.WithContext(ctx).Order("id DESC").Limit(1).Find(&meta)
	if res.Error != nil {
		return 0, true, res.Error
	}
	return meta.Version, true, nil
}

func (a *Adapter) ensureTables(ctx context.Context) error {
	db := a.db.WithContext(ctx)
	for _, name := range KnownTables {
		if err := db.Table(name).AutoMigrate(&Row{}); err != nil {
			return classify(err, "create_table", name)
		}
	}
	if err := db.AutoMigrate(&schemaMeta{}); err != nil {
		return classify(err, "create_table", tableSchemaMeta)
	}
	meta := schemaMeta{ID: 1, Version: a.cfg.SchemaVersion, CreatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version"}),
	}).Create(&meta).Error; err != nil {
		return classify(err, "write_version", tableSchemaMeta)
	}

	tables, err := db.Migrator().GetTables()
	if err != nil {
		return classify(err, "list_tables", "")
	}
	for _, name := range tables {
		if isInternalTable(name) || name == tableSchemaMeta || slices.Contains(KnownTables, name) {
			continue
		}
		a.log.Info("dropping unknown table", logger.String("table", name))
		if err := db.Migrator().DropTable(name); err != nil {
			return classify(err, "drop_table", name)
		}
	}
	return nil
}

// destroy closes the connection and removes the database files.
func (a *Adapter) destroy() error {
	if err := a.closeDB(); err != nil {
		return classify(err, "close", a.cfg.Name)
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(a.path + suffix); err != nil && !os.IsNotExist(err) {
			return storageError(err, "remove", a.cfg.Name)
		}
	}
	return nil
}

func (a *Adapter) closeDB() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	a.db = nil
	return sqlDB.Close()
}

// Close closes the database. It is safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.closeDB(); err != nil {
		return classify(err, "close", a.cfg.Name)
	}
	return nil
}

// Path returns the database file path.
func (a *Adapter) Path() string { return a.path }

// Version returns the schema version of the open database.
func (a *Adapter) Version() int { return a.cfg.SchemaVersion }

// WasReset reports whether Open recreated the database after a version mismatch.
func (a *Adapter) WasReset() bool { return a.reset }

// Tables lists the tables present in the database.
func (a *Adapter) Tables(ctx context.Context) ([]string, error) {
	tables, err := a.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, classify(err, "list_tables", "")
	}
	tables = slices.DeleteFunc(tables, isInternalTable)
	slices.Sort(tables)
	return tables, nil
}

// Put stores value as JSON under id.
func (a *Adapter) Put(ctx context.Context, table, id string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.New(err).Component("persistence").Category(errors.CategoryValidation).Context("table", table).Build()
	}
	return a.Apply(ctx, []Op{{Table: table, ID: id, Value: raw}})
}

// Get decodes the value stored under id into out.
func (a *Adapter) Get(ctx context.Context, table, id string, out any) (bool, error) {
	start := time.Now()
	var rows []Row
	err := a.db.WithContext(ctx).Table(table).Where("id = ?", id).Limit(1).Find(&rows).Error
	a.record("get", table, err, start)
	if err != nil {
		return false, classify(err, "get", table)
	}
	if len(rows) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(rows[0].Value, out); err != nil {
		return false, storageError(err, "decode", table)
	}
	return true, nil
}

// Delete removes ids from table.
func (a *Adapter) Delete(ctx context.Context, table string, ids ...string) error {
	ops := make([]Op, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, Op{Table: table, ID: id, Delete: true})
	}
	return a.Apply(ctx, ops)
}

// Rows returns every row of table ordered by id.
func (a *Adapter) Rows(ctx context.Context, table string) ([]Row, error) {
	start := time.Now()
	var rows []Row
	err := a.db.WithContext(ctx).Table(table).Order("id").Find(&rows).Error
	a.record("scan", table, err, start)
	if err != nil {
		return nil, classify(err, "scan", table)
	}
	return rows, nil
}

// Count returns the number of rows in table.
func (a *Adapter) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := a.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, classify(err, "count", table)
	}
	return n, nil
}

// Op is one durable write.
type Op struct {
	Table  string
	ID     string
	Value  []byte
	Delete bool
}

// Apply writes ops in one transaction, in order.
func (a *Adapter) Apply(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	start := time.Now()
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, op := range ops {
			if op.Delete {
				if err := tx.Table(op.Table).Where("id = ?", op.ID).Delete(&Row{}).Error; err != nil {
					return err
				}
				continue
			}
			row := Row{ID: op.ID, Value: op.Value, UpdatedAt: now}
			if err := tx.Table(op.Table).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	a.record("apply", ops[0].Table, err, start)
	if err != nil {
		return classify(err, "apply", ops[0].Table)
	}
	return nil
}

// LoadAll decodes every row of table. Rows that fail to decode are skipped
// and logged; one bad row must not make the whole store unreadable.
func LoadAll[T any](ctx context.Context, a *Adapter, table string) ([]T, error) {
	rows, err := a.Rows(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := json.Unmarshal(r.Value, &v); err != nil {
			a.log.Warn("skipping undecodable row",
				logger.String("table", table),
				logger.String("id", r.ID),
				logger.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (a *Adapter) record(operation, table string, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
		a.metrics.RecordError(operation, errorKind(err))
	}
	a.metrics.RecordOperation(operation, table, status, time.Since(start).Seconds())
}

func checkFreeSpace(dir string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return storageError(err, "disk_usage", dir)
	}
	if usage.Free < minFree {
		return errors.Newf("insufficient storage: %d bytes free, %d required", usage.Free, minFree).
			Component("persistence").
			Category(errors.CategoryQuota).
			Context("dir", dir).
			Build()
	}
	return nil
}

// isInternalTable filters SQLite's own bookkeeping tables.
func isInternalTable(name string) bool {
	return strings.HasPrefix(name, "sqlite_")
}

// classify maps driver errors to the storage error taxonomy: a locked or
// busy database is reported as blocked, everything else as a storage error.
func classify(err error, operation, table string) error {
	if err == nil {
		return nil
	}
	if IsBlocked(err) {
		return errors.New(err).
			Component("persistence").
			Category(errors.CategoryStorageBlocked).
			Context("operation", operation).
			Context("table", table).
			Build()
	}
	return storageError(err, operation, table)
}

func storageError(err error, operation, table string) error {
	b := errors.New(err).
		Component("persistence").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Context("table", table)
	if isCorrupt(err) {
		b = b.Context("corrupt", true)
	}
	return b.Build()
}

// IsBlocked reports whether err means another connection holds the database.
func IsBlocked(err error) bool {
	if errors.IsCategory(err, errors.CategoryStorageBlocked) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func isCorrupt(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB
	}
	return false
}

func errorKind(err error) string {
	switch {
	case IsBlocked(err):
		return "blocked"
	case isCorrupt(err):
		return "corrupt"
	default:
		return "other"
	}
}
