// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store persists the production entities in SQLite. All engine
// write paths run through WithTx so that every operation spans a single
// transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	cod_order          TEXT    NOT NULL UNIQUE,
	operario           TEXT    NOT NULL,
	lote               TEXT    NOT NULL,
	articulo           TEXT    NOT NULL,
	descripcion        TEXT    NOT NULL DEFAULT '',
	estado             TEXT    NOT NULL,
	cantidad           INTEGER NOT NULL,
	botes_caja         INTEGER NOT NULL,
	std_referencia     REAL    NOT NULL,
	cajas_previstas    REAL    NOT NULL,
	tiempo_estimado    REAL    NOT NULL,
	hora_creacion      INTEGER NOT NULL,
	hora_inicio        INTEGER,
	hora_fin           INTEGER,
	botes_buenos       INTEGER,
	botes_malos        INTEGER,
	total_cajas_cierre INTEGER,
	repercap           INTEGER NOT NULL DEFAULT 0,
	acumula            INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS orders_estado_idx ON orders(estado);

CREATE TABLE IF NOT EXISTS order_extra (
	id_order     INTEGER PRIMARY KEY REFERENCES orders(id) ON DELETE CASCADE,
	formato_bote TEXT NOT NULL DEFAULT '',
	tipo         TEXT NOT NULL DEFAULT '',
	uds_bote     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pauses (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	id_order           INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	tipo               TEXT,
	descripcion        TEXT,
	operario           TEXT,
	computa            INTEGER,
	hora_inicio        INTEGER NOT NULL,
	hora_fin           INTEGER,
	tiempo_total_pausa REAL
);

CREATE INDEX IF NOT EXISTS pauses_order_idx ON pauses(id_order);
CREATE UNIQUE INDEX IF NOT EXISTS pauses_open_unique ON pauses(id_order) WHERE hora_fin IS NULL;

CREATE TABLE IF NOT EXISTS metricas (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	id_order        INTEGER NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
	tiempo_total    REAL NOT NULL,
	tiempo_pausado  REAL NOT NULL,
	tiempo_activo   REAL NOT NULL,
	disponibilidad  REAL NOT NULL,
	rendimiento     REAL NOT NULL,
	calidad         REAL NOT NULL,
	oee             REAL NOT NULL,
	std_real        REAL NOT NULL,
	por_cump_pedido REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS acumula (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	id_order         INTEGER NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
	hora_inicio      INTEGER NOT NULL,
	hora_fin         INTEGER,
	tiempo_total     REAL,
	num_cajas_manual INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bottle_counters (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	id_order               INTEGER NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
	quantity               INTEGER NOT NULL DEFAULT 0,
	is_active              INTEGER NOT NULL DEFAULT 0,
	created_at             INTEGER NOT NULL,
	last_updated           INTEGER NOT NULL,
	last_bottle_counted_at INTEGER
);

CREATE TABLE IF NOT EXISTS order_delete_audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	id_order   INTEGER NOT NULL,
	cod_order  TEXT    NOT NULL,
	operario   TEXT    NOT NULL,
	lote       TEXT    NOT NULL,
	articulo   TEXT    NOT NULL,
	estado     TEXT    NOT NULL,
	cantidad   INTEGER NOT NULL,
	deleted_by TEXT    NOT NULL,
	motivo     TEXT    NOT NULL,
	deleted_at INTEGER NOT NULL,
	ip_address TEXT
);
`

// Store is the SQLite-backed system of record.
type Store struct {
	db *sql.DB
}

// New wraps db and applies pending migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Tx bundles the typed operations available inside a transaction.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a single transaction. The transaction commits
// when fn returns nil and rolls back otherwise, or when ctx is done.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Internalf("begin tx: %v", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.Internalf("commit tx: %v", err)
	}
	return nil
}

// timeToMillis converts a wall-clock time to epoch milliseconds.
func timeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func timeToNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullMillisToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
