// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	dbDriver   = "mysql"
	dbPoolSize = 4
	dbConnLife = 30 * time.Minute
	dbTimeout  = 5
)

var ErrBadDSN = fmt.Errorf("data source name is required")

type SQLClient struct {
	db      *sql.DB
	timeout time.Duration
	name    string
}

func (sc *SQLClient) Name() string {
	if sc == nil {
		return ""
	}
	return sc.name
}

// context bounds a single statement by the client timeout.
func (sc *SQLClient) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sc.timeout)
}

func (sc *SQLClient) Close() error {
	if sc.db != nil {
		err := sc.db.Close()
		sc.db = nil
		return err
	}
	return nil
}

func (sc *SQLClient) Ping(ctx context.Context) error {
	ctx, cancel := sc.context(ctx)
	defer cancel()
	return sc.db.PingContext(ctx)
}

func (sc *SQLClient) exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := sc.context(ctx)
	defer cancel()
	_, err := sc.db.ExecContext(ctx, query, args...)
	return err
}

// NewSQLClient opens a MySQL/MariaDB connection pool and pings it.
// timeout is in seconds and bounds every statement.
func NewSQLClient(ctx context.Context, dsn string, timeout int, name string) (*SQLClient, error) {
	if dsn == "" {
		return nil, ErrBadDSN
	}

	db, err := sql.Open(dbDriver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(dbConnLife)
	db.SetMaxOpenConns(dbPoolSize)
	db.SetMaxIdleConns(dbPoolSize)

	if timeout < 1 {
		timeout = dbTimeout
	}

	sc := &SQLClient{
		db:      db,
		timeout: time.Duration(timeout) * time.Second,
		name:    name,
	}

	if err = sc.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sc, nil
}
