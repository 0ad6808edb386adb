// Package sqlstore keeps the whole namespace, content included, in a SQL
// database. SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq) are supported.
// Every mutation runs in one transaction, so rename, concat and recursive
// delete are atomic.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/metrics"
)

// Store implements backends.Storage on database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

// NewSQLiteStore opens (and if needed creates) a SQLite namespace at dbPath.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY on lock upgrades.
	db.SetMaxOpenConns(1)

	return newStore(db, sqliteDialect, logger)
}

// NewPostgresStore connects to a PostgreSQL namespace using dsn.
func NewPostgresStore(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newStore(db, postgresDialect, logger)
}

func newStore(db *sql.DB, d dialect, logger *zap.Logger) (*Store, error) {
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, dialect: d, logger: logger, now: time.Now}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if err := runMigrations(ctx, s.db, s.dialect); err != nil {
		return err
	}
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug("Schema ready", zap.String("dialect", s.dialect.name), zap.Uint("version", version))

	now := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO nodes (path, parent, name, type, length, owner, grp, permission, mtime, atime)
		VALUES (?, '', ?, ?, 0, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO NOTHING`),
		pathutil.Root, pathutil.Root, string(metadata.TypeDirectory),
		metadata.DefaultOwner, metadata.DefaultGroup, metadata.DefaultDirPermission, now, now)
	if err != nil {
		return fmt.Errorf("failed to create root directory: %w", err)
	}
	return nil
}

// querier is the subset of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `path, name, type, length, owner, grp, permission, mtime, atime`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*metadata.Entry, error) {
	var (
		e            metadata.Entry
		typ          string
		mtime, atime int64
	)
	if err := row.Scan(&e.Path, &e.Name, &typ, &e.Length, &e.Owner, &e.Group, &e.Permission, &mtime, &atime); err != nil {
		return nil, err
	}
	e.Type = metadata.EntryType(typ)
	e.ModTime = time.Unix(0, mtime).UTC()
	e.AccessTime = time.Unix(0, atime).UTC()
	return &e, nil
}

func (s *Store) stat(ctx context.Context, q querier, path string) (*metadata.Entry, error) {
	row := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+entryColumns+` FROM nodes WHERE path = ?`), path)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, metadata.Errorf(metadata.ErrNotFound, "%s", path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return e, nil
}

// inTx runs fn in a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	defer metrics.ObserveSQLQuery(op, start)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	return nil
}

// subtreeArgs returns the arguments matching strict descendants of p in
// "substr(path, 1, ?) = ?". LIKE is avoided because SQLite matches it case-insensitively.
func subtreeArgs(p string) (int, string) {
	prefix := p + "/"
	return utf8.RuneCountInString(prefix), prefix
}

func (s *Store) insertNode(ctx context.Context, q querier, path string, typ metadata.EntryType, data []byte) error {
	now := s.now().UnixNano()
	perm := metadata.DefaultFilePermission
	if typ == metadata.TypeDirectory {
		perm = metadata.DefaultDirPermission
	}

	_, err := q.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO nodes (path, parent, name, type, length, owner, grp, permission, mtime, atime, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		path, pathutil.Parent(path), pathutil.Base(path), string(typ), int64(len(data)),
		metadata.PrincipalFromContext(ctx), metadata.DefaultGroup, perm, now, now, data)
	if err != nil {
		if s.dialect.unique(err) {
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s", path)
		}
		return fmt.Errorf("failed to insert %s: %w", path, err)
	}
	return nil
}

func (s *Store) mkdirAll(ctx context.Context, q querier, path string) error {
	for _, p := range append(pathutil.Ancestors(path), path) {
		e, err := s.stat(ctx, q, p)
		switch {
		case err == nil:
			if !e.IsDir() {
				return metadata.Errorf(metadata.ErrAlreadyExists, "%s exists and is a file", p)
			}
		case errors.Is(err, metadata.ErrNotFound):
			if err := s.insertNode(ctx, q, p, metadata.TypeDirectory, nil); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

func (s *Store) readData(ctx context.Context, q querier, path string) ([]byte, error) {
	var (
		typ  string
		data []byte
	)
	err := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT type, data FROM nodes WHERE path = ?`), path).Scan(&typ, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, metadata.Errorf(metadata.ErrNotFound, "file %s", path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if metadata.EntryType(typ) != metadata.TypeFile {
		return nil, metadata.Errorf(metadata.ErrNotFound, "%s is a directory", path)
	}
	return data, nil
}

func (s *Store) writeData(ctx context.Context, q querier, path string, data []byte) error {
	_, err := q.ExecContext(ctx, s.dialect.rebind(`UPDATE nodes SET data = ?, length = ?, mtime = ? WHERE path = ?`),
		data, int64(len(data)), s.now().UnixNano(), path)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ListDirectory returns the immediate children of a directory, sorted by name
func (s *Store) ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error) {
	start := time.Now()
	defer metrics.ObserveSQLQuery("list_directory", start)

	dir, err := s.stat(ctx, s.db, path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, metadata.Errorf(metadata.ErrNotFound, "directory %s", path)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+entryColumns+` FROM nodes WHERE parent = ? ORDER BY name`), path)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	children := make([]*metadata.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return children, nil
}

// CreateDirectory creates a directory and any missing ancestors
func (s *Store) CreateDirectory(ctx context.Context, path string) error {
	return s.inTx(ctx, "create_directory", func(tx *sql.Tx) error {
		return s.mkdirAll(ctx, tx, path)
	})
}

// Create writes a new file, creating missing parent directories
func (s *Store) Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read content for %s: %w", path, err)
	}

	return s.inTx(ctx, "create", func(tx *sql.Tx) error {
		existing, err := s.stat(ctx, tx, path)
		switch {
		case err == nil:
			if existing.IsDir() {
				return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", path)
			}
			if !overwrite {
				return metadata.Errorf(metadata.ErrAlreadyExists, "file %s", path)
			}
			return s.writeData(ctx, tx, path, data)
		case !errors.Is(err, metadata.ErrNotFound):
			return err
		}

		if err := s.mkdirAll(ctx, tx, pathutil.Parent(path)); err != nil {
			return err
		}
		return s.insertNode(ctx, tx, path, metadata.TypeFile, data)
	})
}

// Append adds content after the current end of an existing file
func (s *Store) Append(ctx context.Context, path string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read content for %s: %w", path, err)
	}

	return s.inTx(ctx, "append", func(tx *sql.Tx) error {
		current, err := s.readData(ctx, tx, path)
		if err != nil {
			return err
		}
		return s.writeData(ctx, tx, path, append(current, data...))
	})
}

// Open opens a file for sequential reading
func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	start := time.Now()
	defer metrics.ObserveSQLQuery("open", start)

	data, err := s.readData(ctx, s.db, path)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE nodes SET atime = ? WHERE path = ?`), s.now().UnixNano(), path); err != nil {
		s.logger.Warn("Failed to update access time", zap.Error(err))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns the entry for a file or directory
func (s *Store) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	start := time.Now()
	defer metrics.ObserveSQLQuery("stat", start)

	return s.stat(ctx, s.db, path)
}

// SetPermission replaces the octal permission string of a node
func (s *Store) SetPermission(ctx context.Context, path string, permission string) error {
	if err := metadata.ValidatePermission(permission); err != nil {
		return err
	}

	start := time.Now()
	defer metrics.ObserveSQLQuery("set_permission", start)

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE nodes SET permission = ? WHERE path = ?`), permission, path)
	if err != nil {
		return fmt.Errorf("failed to set permission: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return metadata.Errorf(metadata.ErrNotFound, "%s", path)
	}
	return nil
}

// Concat replaces target with the contents of sources in order and removes the sources
func (s *Store) Concat(ctx context.Context, target string, sources []string) error {
	if len(sources) == 0 {
		return metadata.Errorf(metadata.ErrInvalidArgument, "no sources to concatenate into %s", target)
	}
	if len(pathutil.SortedUnique(sources...)) != len(sources) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "duplicate concat sources")
	}

	return s.inTx(ctx, "concat", func(tx *sql.Tx) error {
		var buf bytes.Buffer
		for _, src := range sources {
			data, err := s.readData(ctx, tx, src)
			if err != nil {
				return err
			}
			buf.Write(data)
		}

		existing, err := s.stat(ctx, tx, target)
		if err != nil && !errors.Is(err, metadata.ErrNotFound) {
			return err
		}
		if existing != nil && existing.IsDir() {
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", target)
		}
		if err := s.mkdirAll(ctx, tx, pathutil.Parent(target)); err != nil {
			return err
		}

		for _, src := range sources {
			if src == target {
				continue
			}
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM nodes WHERE path = ?`), src); err != nil {
				return fmt.Errorf("failed to remove source %s: %w", src, err)
			}
		}

		if existing != nil {
			return s.writeData(ctx, tx, target, buf.Bytes())
		}
		return s.insertNode(ctx, tx, target, metadata.TypeFile, buf.Bytes())
	})
}

// Rename moves a file or directory together with its subtree
func (s *Store) Rename(ctx context.Context, source, destination string) error {
	if source == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot rename the root directory")
	}
	// Renaming onto itself falls through to the existing-destination check.
	if destination != source && pathutil.IsWithin(destination, source) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot move %s beneath itself", source)
	}

	return s.inTx(ctx, "rename", func(tx *sql.Tx) error {
		if _, err := s.stat(ctx, tx, source); err != nil {
			return err
		}
		if _, err := s.stat(ctx, tx, destination); err == nil {
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s", destination)
		} else if !errors.Is(err, metadata.ErrNotFound) {
			return err
		}
		parent, err := s.stat(ctx, tx, pathutil.Parent(destination))
		if err != nil || !parent.IsDir() {
			return metadata.Errorf(metadata.ErrNotFound, "destination parent %s", pathutil.Parent(destination))
		}

		n, prefix := subtreeArgs(source)
		rows, err := tx.QueryContext(ctx, s.dialect.rebind(`SELECT path FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?`), source, n, prefix)
		if err != nil {
			return fmt.Errorf("failed to collect subtree: %w", err)
		}
		var paths []string
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan subtree: %w", err)
			}
			paths = append(paths, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate subtree: %w", err)
		}

		for _, p := range paths {
			moved := pathutil.Rebase(p, source, destination)
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(`UPDATE nodes SET path = ?, parent = ?, name = ? WHERE path = ?`),
				moved, pathutil.Parent(moved), pathutil.Base(moved), p); err != nil {
				return fmt.Errorf("failed to move %s: %w", p, err)
			}
		}

		_, err = tx.ExecContext(ctx, s.dialect.rebind(`UPDATE nodes SET mtime = ? WHERE path = ?`), s.now().UnixNano(), destination)
		return err
	})
}

// Delete removes a node. Non-empty directories require recursive.
func (s *Store) Delete(ctx context.Context, path string, recursive bool) error {
	if path == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot delete the root directory")
	}

	return s.inTx(ctx, "delete", func(tx *sql.Tx) error {
		e, err := s.stat(ctx, tx, path)
		if err != nil {
			return err
		}

		if e.IsDir() {
			n, prefix := subtreeArgs(path)
			var descendants int
			if err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM nodes WHERE substr(path, 1, ?) = ?`), n, prefix).Scan(&descendants); err != nil {
				return fmt.Errorf("failed to count descendants: %w", err)
			}
			if descendants > 0 && !recursive {
				return metadata.Errorf(metadata.ErrNotEmpty, "%s", path)
			}
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM nodes WHERE substr(path, 1, ?) = ?`), n, prefix); err != nil {
				return fmt.Errorf("failed to delete descendants of %s: %w", path, err)
			}
		}

		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM nodes WHERE path = ?`), path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
		return nil
	})
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
