package users

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"shetmall-auth/internal/auth"
)

const uniqueViolation = "23505"

const userColumns = `
	id, name, surname, email, phone_number, password_hash, age, gender,
	address, state, district, subdistrict, pin_code, avatar,
	current_refresh_token, refresh_token_expires_at, created_at, updated_at`

// PostgresStore keeps users in the users table. Refresh token writes are
// single UPDATE statements so concurrent rotations cannot interleave.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		user      auth.User
		avatar    sql.NullString
		refresh   sql.NullString
		refreshAt sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Name, &user.Surname, &user.Email, &user.PhoneNumber, &user.PasswordHash,
		&user.Age, &user.Gender, &user.Address, &user.State, &user.District, &user.Subdistrict,
		&user.PinCode, &avatar, &refresh, &refreshAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return auth.User{}, err
	}

	user.Avatar = avatar.String
	if refresh.Valid {
		value := refresh.String
		user.RefreshToken = &value
	}
	if refreshAt.Valid {
		value := refreshAt.Time.UTC()
		user.RefreshTokenExpiresAt = &value
	}
	return user, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (auth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return auth.User{}, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id)
	return s.one(row, "query user by id")
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+userColumns+` FROM users WHERE email = $1`, email)
	return s.one(row, "query user by email")
}

func (s *PostgresStore) FindByEmailOrPhone(ctx context.Context, email, phone string) (auth.User, error) {
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)

	var row *sql.Row
	switch {
	case email != "" && phone != "":
		row = s.db.QueryRowContext(ctx, `SELECT`+userColumns+`
			FROM users
			WHERE email = $1 OR phone_number = $2
			ORDER BY (email = $1) DESC
			LIMIT 1`, email, phone)
	case email != "":
		return s.FindByEmail(ctx, email)
	case phone != "":
		row = s.db.QueryRowContext(ctx, `SELECT`+userColumns+` FROM users WHERE phone_number = $1`, phone)
	default:
		return auth.User{}, auth.ErrNotFound
	}
	return s.one(row, "query user by email or phone")
}

func (s *PostgresStore) one(row *sql.Row, op string) (auth.User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrNotFound
		}
		return auth.User{}, wrapDBError(err, op)
	}
	return user, nil
}

func (s *PostgresStore) Create(ctx context.Context, user auth.User) (auth.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return auth.User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := s.now().UTC()
	user.ID = id.String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.RefreshToken = nil
	user.RefreshTokenExpiresAt = nil

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, name, surname, email, phone_number, password_hash, age, gender,
			address, state, district, subdistrict, pin_code, avatar, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`, user.ID, user.Name, user.Surname, user.Email, user.PhoneNumber, user.PasswordHash,
		user.Age, user.Gender, user.Address, user.State, user.District, user.Subdistrict,
		user.PinCode, nullString(user.Avatar), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, wrapDBError(err, "insert user")
	}

	return user, nil
}

func (s *PostgresStore) SetRefreshToken(ctx context.Context, id string, token *string, expiresAt time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}

	var tokenValue, expiresValue any
	if token != nil {
		tokenValue = *token
		expiresValue = expiresAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET current_refresh_token = $2, refresh_token_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, id, tokenValue, expiresValue, s.now().UTC())
	if err != nil {
		return wrapDBError(err, "update refresh token")
	}
	return nil
}

func (s *PostgresStore) SwapRefreshToken(ctx context.Context, id, current, next string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET current_refresh_token = $3, refresh_token_expires_at = $4, updated_at = $5
		WHERE id = $1 AND current_refresh_token = $2
	`, id, current, next, expiresAt.UTC(), s.now().UTC())
	if err != nil {
		return false, wrapDBError(err, "rotate refresh token")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(err, "rotate refresh token rows affected")
	}
	return affected == 1, nil
}

// ClearExpiredRefreshTokens unsets up to batchSize stored tokens that expired before now.
func (s *PostgresStore) ClearExpiredRefreshTokens(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM users
			WHERE refresh_token_expires_at IS NOT NULL AND refresh_token_expires_at < $1
			ORDER BY refresh_token_expires_at ASC
			LIMIT $2
		)
		UPDATE users u
		SET current_refresh_token = NULL, refresh_token_expires_at = NULL, updated_at = $1
		FROM stale
		WHERE u.id = stale.id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, wrapDBError(err, "clear expired refresh tokens")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError(err, "expired refresh tokens rows affected")
	}
	return affected, nil
}

func wrapDBError(err error, op string) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", auth.ErrDependencyUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
