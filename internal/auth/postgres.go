package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"worksuite.app/internal/ids"
)

const pgUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore     { return &accountStore{db: s.db} }
func (s *PGStore) MagicLinks(context.Context) MagicLinkStore { return &magicLinkStore{db: s.db} }

// Account store ------------------------------------------------------------
type accountStore struct{ db *sql.DB }

const accountColumns = `id, email, first_name, last_name, password_hash, role, client_id, active, last_login, created_at`

func (s *accountStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.Email = normalizeEmail(a.Email)
	err := s.db.QueryRowContext(ctx,
		`insert into accounts(id, email, first_name, last_name, password_hash, role, client_id, active)
		 values($1,$2,$3,$4,$5,$6,$7,$8) returning created_at`,
		a.ID, a.Email, a.FirstName, a.LastName, nullString(a.PasswordHash), string(a.Role), nullString(a.ClientID), a.Active,
	).Scan(&a.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *accountStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where email=$1`, normalizeEmail(email))
	return scanAccount(row)
}

func (s *accountStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *accountStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return execAffectingOne(ctx, s.db, `update accounts set last_login=$2 where id=$1`, id, at)
}

func (s *accountStore) SetActive(ctx context.Context, id string, active bool) error {
	return execAffectingOne(ctx, s.db, `update accounts set active=$2 where id=$1`, id, active)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a         Account
		role      string
		hash      sql.NullString
		clientID  sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &hash, &role, &clientID, &a.Active, &lastLogin, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Role = Role(role)
	a.PasswordHash = hash.String
	a.ClientID = clientID.String
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLogin = &t
	}
	return &a, nil
}

// Magic link store ---------------------------------------------------------
type magicLinkStore struct{ db *sql.DB }

func (s *magicLinkStore) Create(ctx context.Context, link *MagicLink) error {
	if link.ID == "" {
		link.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into magic_links(id, account_id, token_hash, expires_at, used) values($1,$2,$3,$4,false)`,
		link.ID, link.AccountID, link.TokenHash, link.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *magicLinkStore) FindByToken(ctx context.Context, rawToken string) (*MagicLink, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, token_hash, expires_at, used, created_at from magic_links where token_hash=$1`,
		hashToken(rawToken))
	var link MagicLink
	if err := row.Scan(&link.ID, &link.AccountID, &link.TokenHash, &link.ExpiresAt, &link.Used, &link.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (s *magicLinkStore) MarkUsed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update magic_links set used=true where id=$1 and used=false`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// helpers ------------------------------------------------------------------

func execAffectingOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
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
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
