package staff

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mdshared "github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Repository interface {
	List(ctx context.Context, filters mdshared.ListFilters) ([]Member, int, error)
	Get(ctx context.Context, id int64) (Member, error)
	FindByEmail(ctx context.Context, email string) (Member, error)
	Create(ctx context.Context, member Member) (Member, error)
	Update(ctx context.Context, id int64, member Member) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const memberColumns = `id, name, email, role, password_hash, is_active, created_at, updated_at`

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.Name, &m.Email, &m.Role, &m.PasswordHash, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *repository) List(ctx context.Context, filters mdshared.ListFilters) ([]Member, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR email ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		where += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.IsActive)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM staff`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + memberColumns + ` FROM staff` + where + ` ORDER BY name`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filters.Offset())
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, m)
	}
	return result, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM staff WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, fmt.Errorf("staff member %d: %w", id, shared.ErrNotFound)
	}
	return m, err
}

func (r *repository) FindByEmail(ctx context.Context, email string) (Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM staff WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, fmt.Errorf("staff member %s: %w", email, shared.ErrNotFound)
	}
	return m, err
}

func (r *repository) Create(ctx context.Context, member Member) (Member, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO staff (name, email, role, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		member.Name, member.Email, member.Role, member.PasswordHash, member.IsActive, now,
	).Scan(&member.ID)
	if err != nil {
		return Member{}, err
	}
	member.CreatedAt = now
	member.UpdatedAt = now
	return member, nil
}

func (r *repository) Update(ctx context.Context, id int64, member Member) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE staff SET name = $1, email = $2, role = $3, is_active = $4, updated_at = NOW()
		WHERE id = $5`,
		member.Name, member.Email, member.Role, member.IsActive, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staff member %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE staff SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staff member %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM staff WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staff member %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
