package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoObjections indicates the candidate set for a pick was empty.
var ErrNoObjections = errors.New("catalog: no objections found")

// ErrObjectionNotFound indicates an unknown objection id.
var ErrObjectionNotFound = errors.New("catalog: objection not found")

// ErrCategoryNotFound indicates an unknown category name or id.
var ErrCategoryNotFound = errors.New("catalog: category not found")

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository reads the seeded objection catalog.
type Repository struct {
	db queryer
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(db queryer) *Repository {
	if db == nil {
		panic("catalog: db required")
	}
	return &Repository{db: db}
}

// List returns objections, optionally filtered by category id.
func (r *Repository) List(ctx context.Context, categoryID string) ([]Objection, error) {
	query := `
		SELECT id, text, category_id, difficulty, created_at
		FROM objections
	`
	var (
		rows pgx.Rows
		err  error
	)
	if categoryID != "" {
		rows, err = r.db.Query(ctx, query+` WHERE category_id = $1`, categoryID)
	} else {
		rows, err = r.db.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: select objections failed: %w", err)
	}
	defer rows.Close()

	var objections []Objection
	for rows.Next() {
		var o Objection
		if err := rows.Scan(&o.ID, &o.Text, &o.CategoryID, &o.Difficulty, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan objection failed: %w", err)
		}
		objections = append(objections, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate objections failed: %w", err)
	}
	return objections, nil
}

// GetByID fetches a single objection.
func (r *Repository) GetByID(ctx context.Context, id string) (*Objection, error) {
	query := `
		SELECT id, text, category_id, difficulty, created_at
		FROM objections
		WHERE id = $1
	`
	var o Objection
	if err := r.db.QueryRow(ctx, query, id).Scan(&o.ID, &o.Text, &o.CategoryID, &o.Difficulty, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrObjectionNotFound
		}
		return nil, fmt.Errorf("catalog: select objection failed: %w", err)
	}
	return &o, nil
}

// Random picks one objection uniformly, from the whole catalog or from a
// single category when categoryID is non-empty.
func (r *Repository) Random(ctx context.Context, categoryID string) (*Objection, error) {
	objections, err := r.List(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if len(objections) == 0 {
		return nil, ErrNoObjections
	}
	picked := objections[rand.Intn(len(objections))]
	return &picked, nil
}

// ListCategories returns all objection categories.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, description FROM objection_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: select categories failed: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan category failed: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate categories failed: %w", err)
	}
	return categories, nil
}

// CategoryByName resolves a category by its display name.
func (r *Repository) CategoryByName(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := r.db.QueryRow(ctx, `SELECT id, name, description FROM objection_categories WHERE name = $1`, name).
		Scan(&c.ID, &c.Name, &c.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("catalog: select category failed: %w", err)
	}
	return &c, nil
}
