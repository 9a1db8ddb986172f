package cache

import (
	"database/sql"
	"embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCache stores tiles in a single sqlite file, for persistent caches
// without a separate service.
type SQLiteCache struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Cache = (*SQLiteCache)(nil)

func NewSQLiteCache(path string, logger *zap.Logger) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	c := &SQLiteCache{db: db, logger: logger}
	if err := c.runMigrations(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) runMigrations() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(c.db, "migrations")
}

func (c *SQLiteCache) Get(key TileKey) ([]byte, bool) {
	query := `SELECT tile_data
	FROM tile_cache
	WHERE source = ? AND z = ? AND x = ? AND y = ? AND format = ?`

	var data []byte
	err := c.db.QueryRow(query, key.Source, key.Z, key.X, key.Y, key.Format).Scan(&data)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("sqlite get failed", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *SQLiteCache) Set(key TileKey, value []byte) {
	query := `INSERT INTO tile_cache (source, z, x, y, format, tile_data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, z, x, y, format) DO UPDATE SET tile_data = excluded.tile_data`

	if _, err := c.db.Exec(query, key.Source, key.Z, key.X, key.Y, key.Format, value); err != nil {
		c.logger.Warn("sqlite set failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (c *SQLiteCache) Clear() {
	if _, err := c.db.Exec(`DELETE FROM tile_cache`); err != nil {
		c.logger.Warn("sqlite clear failed", zap.Error(err))
	}
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
