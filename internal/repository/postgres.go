package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridhq/gridauth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TokenRepository       = (*PostgresTokenRepo)(nil)
	_ AuthRequestRepository = (*PostgresAuthRequestRepo)(nil)
	_ ProviderRepository    = (*PostgresProviderRepo)(nil)
	_ UserRepository        = (*PostgresUserRepo)(nil)
)

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const tokenColumns = `id, user_id, token_type, token, refresh_token, code, scopes, expires_at, consumed_at, created_at`

const insertTokenSQL = `INSERT INTO access_tokens (id, user_id, token_type, token, refresh_token, code, scopes, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + tokenColumns

func (r *PostgresTokenRepo) Create(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, insertTokenSQL,
		token.ID,
		token.UserID,
		token.TokenType,
		token.Token,
		nullString(token.RefreshToken),
		nullString(token.Code),
		token.Scopes,
		token.ExpiresAt,
	)
	created, err := scanToken(row)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("insert token: %w", err)
	}
	return created, nil
}

func (r *PostgresTokenRepo) GetByToken(ctx context.Context, token string) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE token = $1`, token)
	found, err := scanToken(row)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("get token: %w", mapNoRows(err))
	}
	return found, nil
}

func (r *PostgresTokenRepo) GetByRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE refresh_token = $1`, refresh)
	found, err := scanToken(row)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("get refresh token: %w", mapNoRows(err))
	}
	return found, nil
}

// ConsumeRefreshToken relies on the conditional UPDATE for its exactly-once
// guarantee: under concurrent redemption only one statement observes
// consumed_at IS NULL, so only one caller receives the row back.
func (r *PostgresTokenRepo) ConsumeRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, `UPDATE access_tokens SET consumed_at = now()
WHERE refresh_token = $1 AND consumed_at IS NULL
RETURNING `+tokenColumns, refresh)
	consumed, err := scanToken(row)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("consume refresh token: %w", mapNoRows(err))
	}
	return consumed, nil
}

func (r *PostgresTokenRepo) ClaimCode(ctx context.Context, code string) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, `UPDATE access_tokens SET code = NULL
WHERE code = $1
RETURNING `+tokenColumns, code)
	claimed, err := scanToken(row)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("claim code: %w", mapNoRows(err))
	}
	return claimed, nil
}

func (r *PostgresTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM access_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete token: %w", ErrNotFound)
	}
	return nil
}

// PostgresAuthRequestRepo implements AuthRequestRepository.
type PostgresAuthRequestRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuthRequestRepo(pool *pgxpool.Pool) *PostgresAuthRequestRepo {
	return &PostgresAuthRequestRepo{db: pool}
}

const authRequestColumns = `id, user_id, state_digest, redirect_uri, scope, created_at, consumed_at`

func (r *PostgresAuthRequestRepo) Create(ctx context.Context, req domain.AuthorizationRequest) (domain.AuthorizationRequest, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO authorization_requests (id, user_id, state_digest, redirect_uri, scope)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+authRequestColumns,
		req.ID, req.UserID, req.StateDigest, req.RedirectURI, req.Scope)
	created, err := scanAuthRequest(row)
	if err != nil {
		return domain.AuthorizationRequest{}, fmt.Errorf("insert authorization request: %w", err)
	}
	return created, nil
}

func (r *PostgresAuthRequestRepo) Consume(ctx context.Context, stateDigest string) (domain.AuthorizationRequest, error) {
	row := r.db.QueryRow(ctx, `UPDATE authorization_requests SET consumed_at = now()
WHERE state_digest = $1 AND consumed_at IS NULL
RETURNING `+authRequestColumns, stateDigest)
	consumed, err := scanAuthRequest(row)
	if err != nil {
		return domain.AuthorizationRequest{}, fmt.Errorf("consume authorization request: %w", mapNoRows(err))
	}
	return consumed, nil
}

func (r *PostgresAuthRequestRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM authorization_requests WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep authorization requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresProviderRepo implements ProviderRepository.
type PostgresProviderRepo struct {
	db *pgxpool.Pool
}

func NewPostgresProviderRepo(pool *pgxpool.Pool) *PostgresProviderRepo {
	return &PostgresProviderRepo{db: pool}
}

const providerColumns = `id, provider, client_id, client_secret, salt, authorize_url, token_url, userinfo_url, updated_at`

func (r *PostgresProviderRepo) Get(ctx context.Context) (*domain.AuthProvider, error) {
	row := r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM auth_providers ORDER BY updated_at DESC LIMIT 1`)
	provider, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get auth provider: %w", err)
	}
	return &provider, nil
}

// Save deletes any previous configuration in the same transaction so at most
// one row survives.
func (r *PostgresProviderRepo) Save(ctx context.Context, provider domain.AuthProvider) (domain.AuthProvider, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.AuthProvider{}, fmt.Errorf("save auth provider: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM auth_providers`); err != nil {
		return domain.AuthProvider{}, fmt.Errorf("supersede auth provider: %w", err)
	}

	row := tx.QueryRow(ctx, `INSERT INTO auth_providers (id, provider, client_id, client_secret, salt, authorize_url, token_url, userinfo_url, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
RETURNING `+providerColumns,
		provider.ID,
		provider.Provider,
		provider.ClientID,
		provider.ClientSecret,
		provider.Salt,
		provider.AuthorizeURL,
		provider.TokenURL,
		provider.UserinfoURL,
	)
	saved, err := scanProvider(row)
	if err != nil {
		return domain.AuthProvider{}, fmt.Errorf("insert auth provider: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AuthProvider{}, fmt.Errorf("save auth provider: %w", err)
	}
	return saved, nil
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const userColumns = `id, name, email, external_id, invite_code, member_of, roles, created_at, updated_at`

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *PostgresUserRepo) GetByName(ctx context.Context, name string) (domain.User, error) {
	return r.getBy(ctx, `name = $1`, name)
}

func (r *PostgresUserRepo) GetByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	return r.getBy(ctx, `external_id = $1`, externalID)
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getBy(ctx, `email = $1`, email)
}

func (r *PostgresUserRepo) GetByInviteCode(ctx context.Context, code string) (domain.User, error) {
	return r.getBy(ctx, `invite_code = $1`, code)
}

func (r *PostgresUserRepo) getBy(ctx context.Context, predicate string, arg any) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+predicate, arg)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", mapNoRows(err))
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO users (id, name, email, external_id, invite_code, member_of, roles)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+userColumns,
		user.ID,
		user.Name,
		nullString(user.Email),
		nullString(user.ExternalID),
		nullString(user.InviteCode),
		user.MemberOf,
		user.Roles,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, `UPDATE users
SET name = $2, email = $3, external_id = $4, invite_code = $5, member_of = $6, roles = $7, updated_at = now()
WHERE id = $1
RETURNING `+userColumns,
		user.ID,
		user.Name,
		nullString(user.Email),
		nullString(user.ExternalID),
		nullString(user.InviteCode),
		user.MemberOf,
		user.Roles,
	)
	updated, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", mapNoRows(err))
	}
	return updated, nil
}

func (r *PostgresUserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func scanToken(row pgx.Row) (domain.AccessToken, error) {
	var (
		token   domain.AccessToken
		refresh sql.NullString
		code    sql.NullString
	)
	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenType,
		&token.Token,
		&refresh,
		&code,
		&token.Scopes,
		&token.ExpiresAt,
		&token.ConsumedAt,
		&token.CreatedAt,
	); err != nil {
		return domain.AccessToken{}, err
	}
	token.RefreshToken = refresh.String
	token.Code = code.String
	return token, nil
}

func scanAuthRequest(row pgx.Row) (domain.AuthorizationRequest, error) {
	var req domain.AuthorizationRequest
	if err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.StateDigest,
		&req.RedirectURI,
		&req.Scope,
		&req.CreatedAt,
		&req.ConsumedAt,
	); err != nil {
		return domain.AuthorizationRequest{}, err
	}
	return req, nil
}

func scanProvider(row pgx.Row) (domain.AuthProvider, error) {
	var provider domain.AuthProvider
	if err := row.Scan(
		&provider.ID,
		&provider.Provider,
		&provider.ClientID,
		&provider.ClientSecret,
		&provider.Salt,
		&provider.AuthorizeURL,
		&provider.TokenURL,
		&provider.UserinfoURL,
		&provider.UpdatedAt,
	); err != nil {
		return domain.AuthProvider{}, err
	}
	return provider, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user     domain.User
		email    sql.NullString
		external sql.NullString
		invite   sql.NullString
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&email,
		&external,
		&invite,
		&user.MemberOf,
		&user.Roles,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	user.Email = email.String
	user.ExternalID = external.String
	user.InviteCode = invite.String
	return user, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
