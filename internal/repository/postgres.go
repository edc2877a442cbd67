package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns        = 10
	defaultMinConns        = 2
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
)

// PostgresDB 封装 pgx 连接池
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB 创建 PostgreSQL 连接
func NewPostgresDB(ctx context.Context, connString string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// 连接池配置
	config.MaxConns = int32(getEnvInt("PG_MAX_CONNS", defaultMaxConns))
	config.MinConns = int32(getEnvInt("PG_MIN_CONNS", defaultMinConns))
	lifetimeMin := getEnvInt("PG_MAX_CONN_LIFETIME_MIN", int(defaultMaxConnLifetime/time.Minute))
	idleMin := getEnvInt("PG_MAX_CONN_IDLE_MIN", int(defaultMaxConnIdleTime/time.Minute))
	config.MaxConnLifetime = time.Duration(lifetimeMin) * time.Minute
	config.MaxConnIdleTime = time.Duration(idleMin) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresDB{pool: pool}, nil
}

// Close 关闭连接池
func (db *PostgresDB) Close() {
	db.pool.Close()
}
