package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "cache.db"

// sqliteStore 把所有仓库放进同一张表，主键为 (store, url)。
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore 在 basePath 下创建/打开 cache.db。
func NewSQLiteStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	dsn := "file:" + filepath.Join(basePath, sqliteFileName) + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			store     TEXT NOT NULL,
			url       TEXT NOT NULL,
			status    INTEGER NOT NULL,
			header    TEXT NOT NULL DEFAULT '{}',
			body      BLOB NOT NULL,
			mod_time  DATETIME NOT NULL,
			PRIMARY KEY (store, url)
		);
		CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}

	var (
		status  int
		rawHdr  string
		body    []byte
		modTime time.Time
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT status, header, body, mod_time FROM entries WHERE store = ? AND url = ?`,
		locator.Store, locator.Key)
	if err := row.Scan(&status, &rawHdr, &body, &modTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cache entry: %w", err)
	}

	header := http.Header{}
	if err := json.Unmarshal([]byte(rawHdr), &header); err != nil {
		return nil, fmt.Errorf("decode cache header: %w", err)
	}

	return &ReadResult{
		Entry: Entry{
			Locator:   locator,
			Status:    status,
			Header:    header,
			SizeBytes: int64(len(body)),
			ModTime:   modTime.UTC(),
		},
		Reader: nopSeekCloser{bytes.NewReader(body)},
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, body); err != nil {
		return nil, err
	}
	header := cloneHeader(opts.Header)
	rawHdr, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO stores (name) VALUES (?)`, locator.Store); err != nil {
		return nil, fmt.Errorf("register store %s: %w", locator.Store, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (store, url, status, header, body, mod_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(store, url) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			mod_time = excluded.mod_time
	`, locator.Store, locator.Key, status, string(rawHdr), buf.Bytes(), modTime)
	if err != nil {
		return nil, fmt.Errorf("upserting cache entry %s: %w", locator.Key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Entry{
		Locator:   locator,
		Status:    status,
		Header:    header,
		SizeBytes: int64(buf.Len()),
		ModTime:   modTime,
	}, nil
}

func (s *sqliteStore) Remove(ctx context.Context, locator Locator) error {
	if err := validateLocator(locator); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE store = ? AND url = ?`, locator.Store, locator.Key)
	return err
}

func (s *sqliteStore) Stores(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM stores ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStore) DropStore(ctx context.Context, name string) (bool, error) {
	if err := validateStoreName(name); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE store = ?`, name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func validateLocator(locator Locator) error {
	if err := validateStoreName(locator.Store); err != nil {
		return err
	}
	if locator.Key == "" {
		return errors.New("cache key required")
	}
	return nil
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
