package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
)

// PoolConfig bounds the shared connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a connection pool for driver ("postgres" or "sqlite") and
// verifies it with a ping.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*sql.DB, error) {
	var driverName string
	switch driver {
	case "postgres":
		driverName = "postgres"
	case "sqlite":
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Pool is the subset of *sql.DB the store needs.
type Pool interface {
	Conn(ctx context.Context) (*sql.Conn, error)
	PingContext(ctx context.Context) error
}

// ProductStore executes composed queries against the retailer tables. Every
// call acquires one pooled connection, issues one round-trip, and releases
// the connection on every return path.
type ProductStore struct {
	pool     Pool
	composer *catalog.Composer
}

// NewProductStore creates a product store.
func NewProductStore(pool Pool, composer *catalog.Composer) *ProductStore {
	return &ProductStore{pool: pool, composer: composer}
}

// Ping checks that the pool can reach the database.
func (s *ProductStore) Ping(ctx context.Context) error {
	return s.pool.PingContext(ctx)
}

// withConn runs fn on a dedicated connection and always releases it.
func (s *ProductStore) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.pool.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// Fetch runs one source query and returns its rows tagged with the source.
func (s *ProductStore) Fetch(ctx context.Context, q catalog.SourceQuery) ([]Product, error) {
	var products []Product
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r productRow
			if err := rows.Scan(r.targets()...); err != nil {
				return err
			}
			products = append(products, r.product(q.Source))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("fetch "+q.Source, err)
	}
	return products, nil
}

// FetchPlan runs the whole plan as a single UNION ALL round-trip. The result
// holds one slice per plan source, in plan order.
func (s *ProductStore) FetchPlan(ctx context.Context, plan *catalog.QueryPlan) ([][]Product, error) {
	query, args := plan.Union()
	grouped := make([][]Product, len(plan.Queries))

	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ord int
				r   productRow
			)
			if err := rows.Scan(append([]any{&ord}, r.targets()...)...); err != nil {
				return err
			}
			if ord < 0 || ord >= len(plan.Queries) {
				return fmt.Errorf("unexpected source ordinal %d", ord)
			}
			grouped[ord] = append(grouped[ord], r.product(plan.Queries[ord].Source))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("fetch plan", err)
	}
	return grouped, nil
}

// FetchCandidates runs one candidate query. Rows whose vector column is NULL
// are skipped.
func (s *ProductStore) FetchCandidates(ctx context.Context, q catalog.SourceQuery) ([]Candidate, error) {
	var candidates []Candidate
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r   productRow
				raw sql.NullString
			)
			if err := rows.Scan(append(r.targets(), &raw)...); err != nil {
				return err
			}
			if !raw.Valid {
				continue
			}
			candidates = append(candidates, Candidate{Product: r.product(q.Source), RawVector: raw.String})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("fetch candidates "+q.Source, err)
	}
	return candidates, nil
}

// PendingImages lists up to limit products of source with an image but no
// vector, with ids greater than afterID. With all set, products that already
// have a vector are listed too.
func (s *ProductStore) PendingImages(ctx context.Context, source string, afterID int64, limit int, all bool) ([]PendingImage, error) {
	q, err := s.composer.PendingVectors(source, afterID, limit, all)
	if err != nil {
		return nil, domain.InvalidRequest("pending images", err)
	}

	var pending []PendingImage
	err = s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p PendingImage
			if err := rows.Scan(&p.ID, &p.ImageURL); err != nil {
				return err
			}
			pending = append(pending, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("pending images "+source, err)
	}
	return pending, nil
}

// UpdateVector stores the serialized vector for one product.
func (s *ProductStore) UpdateVector(ctx context.Context, source string, id int64, vector string) error {
	q, err := s.composer.UpdateVector(source, id, vector)
	if err != nil {
		return domain.InvalidRequest("update vector", err)
	}

	err = s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return storeErr(fmt.Sprintf("update vector %s", ProductKey(source, id)), err)
	}
	return nil
}

// ErrNotFound indicates that no row matched.
var ErrNotFound = errors.New("record not found")

func storeErr(op string, err error) error {
	return domain.StoreFailure(op, err)
}
