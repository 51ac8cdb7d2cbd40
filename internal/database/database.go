package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"referral-coupons-api/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so that lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Repository on top of a querier.
type queries struct {
	q querier
}

// DB wraps the database connection and provides methods for data access.
type DB struct {
	queries
	conn *sql.DB
}

// Tx is a Repository bound to an open transaction.
type Tx struct {
	queries
}

var (
	_ Store      = (*DB)(nil)
	_ Repository = (*Tx)(nil)
)

// NewDB opens the SQLite database at dbPath and applies migrations.
func NewDB(dbPath string) (*DB, error) {
	dsn := dbPath + "?_foreign_keys=1&_busy_timeout=5000&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers on the embedded store.
	conn.SetMaxOpenConns(1)

	db := &DB{queries: queries{q: conn}, conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate applies the embedded schema migrations.
func (db *DB) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	// m.Close would also close db.conn, so only the source is released.
	defer src.Close()

	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// InTx runs fn inside a single transaction.
func (db *DB) InTx(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{queries: queries{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpsertUser creates the user or refreshes a non-empty username.
func (qs queries) UpsertUser(ctx context.Context, tgID, username string, now time.Time) error {
	query := `INSERT INTO users (tg_id, tg_username, created_at)
	VALUES (?, NULLIF(?, ''), ?)
	ON CONFLICT(tg_id) DO UPDATE SET
		tg_username = COALESCE(excluded.tg_username, users.tg_username)`

	if _, err := qs.q.ExecContext(ctx, query, tgID, username, formatTime(now)); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", tgID, err)
	}
	return nil
}

// GetUser returns the user with the given Telegram id.
func (qs queries) GetUser(ctx context.Context, tgID string) (models.User, error) {
	query := `SELECT tg_id, tg_username, total_invites, total_purchases, created_at
		FROM users WHERE tg_id = ?`

	var (
		user      models.User
		username  sql.NullString
		createdAt string
	)
	err := qs.q.QueryRowContext(ctx, query, tgID).Scan(
		&user.TgID,
		&username,
		&user.TotalInvites,
		&user.TotalPurchases,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user %s: %w", tgID, err)
	}

	user.Username = username.String
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.User{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return user, nil
}

// IncrementUserCounter adds one to the named counter of a user.
func (qs queries) IncrementUserCounter(ctx context.Context, tgID string, counter models.UserCounter) error {
	switch counter {
	case models.CounterTotalInvites, models.CounterTotalPurchases:
	default:
		return fmt.Errorf("unknown user counter %q", counter)
	}

	query := fmt.Sprintf("UPDATE users SET %[1]s = %[1]s + 1 WHERE tg_id = ?", counter)
	if _, err := qs.q.ExecContext(ctx, query, tgID); err != nil {
		return fmt.Errorf("failed to increment %s for %s: %w", counter, tgID, err)
	}
	return nil
}

const couponColumns = `c.code, c.coupon_type, c.discount_percent, c.stars_count, c.min_stars,
	c.owner_tg_id, c.inviter_tg_id, c.invited_tg_id, c.status,
	c.created_at, c.expires_at, c.used_at`

// GetCoupon returns the coupon with the given code.
func (qs queries) GetCoupon(ctx context.Context, code string) (models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons c WHERE c.code = ?`

	row := qs.q.QueryRowContext(ctx, query, code)
	coupon, err := scanCoupon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Coupon{}, ErrNotFound
	}
	if err != nil {
		return models.Coupon{}, fmt.Errorf("failed to get coupon %s: %w", code, err)
	}
	return coupon, nil
}

// InsertCoupon stores a new coupon. A taken code yields ErrDuplicateCode.
func (qs queries) InsertCoupon(ctx context.Context, c models.Coupon) error {
	query := `INSERT INTO coupons (
		code, coupon_type, discount_percent, stars_count, min_stars,
		owner_tg_id, inviter_tg_id, invited_tg_id, status, created_at, expires_at, used_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := qs.q.ExecContext(ctx, query,
		c.Code,
		string(c.Type),
		c.DiscountPercent,
		c.StarsCount,
		c.MinStars,
		c.OwnerTgID,
		nullString(c.InviterTgID),
		nullString(c.InvitedTgID),
		string(c.Status),
		formatTime(c.CreatedAt),
		formatTime(c.ExpiresAt),
		nullTime(c.UsedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert coupon %s: %w", c.Code, err)
	}
	return nil
}

// MarkCouponUsed is a compare-and-set on status active -> used.
func (qs queries) MarkCouponUsed(ctx context.Context, code string, usedAt time.Time) (bool, error) {
	query := `UPDATE coupons SET status = ?, used_at = ?
		WHERE code = ? AND status = ?`

	res, err := qs.q.ExecContext(ctx, query,
		string(models.CouponStatusUsed),
		formatTime(usedAt),
		code,
		string(models.CouponStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark coupon %s used: %w", code, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ListCouponsWithOwnerNames returns every coupon joined with the display
// names of its owner, inviter and invitee, newest first.
func (qs queries) ListCouponsWithOwnerNames(ctx context.Context) ([]models.CouponView, error) {
	query := `SELECT ` + couponColumns + `,
		u_owner.tg_username, u_inviter.tg_username, u_invited.tg_username
		FROM coupons c
		LEFT JOIN users u_owner ON c.owner_tg_id = u_owner.tg_id
		LEFT JOIN users u_inviter ON c.inviter_tg_id = u_inviter.tg_id
		LEFT JOIN users u_invited ON c.invited_tg_id = u_invited.tg_id
		ORDER BY c.created_at DESC, c.rowid DESC`

	rows, err := qs.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query coupons: %w", err)
	}
	defer rows.Close()

	views := []models.CouponView{}
	for rows.Next() {
		var (
			view                    models.CouponView
			owner, inviter, invited sql.NullString
		)
		coupon, err := scanCoupon(rows, &owner, &inviter, &invited)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		view.Coupon = coupon
		view.OwnerUsername = owner.String
		view.InviterUsername = inviter.String
		view.InvitedUsername = invited.String
		views = append(views, view)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coupons: %w", err)
	}

	return views, nil
}

// DeleteCoupon removes a coupon and reports whether a row was removed.
func (qs queries) DeleteCoupon(ctx context.Context, code string) (bool, error) {
	res, err := qs.q.ExecContext(ctx, `DELETE FROM coupons WHERE code = ?`, code)
	if err != nil {
		return false, fmt.Errorf("failed to delete coupon %s: %w", code, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// InsertReferral stores a new referral.
func (qs queries) InsertReferral(ctx context.Context, r models.Referral) error {
	query := `INSERT INTO referrals (
		id, inviter_tg_id, invited_tg_id, inviter_coupon_code,
		invited_coupon_code, status, created_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := qs.q.ExecContext(ctx, query,
		r.ID,
		r.InviterTgID,
		r.InvitedTgID,
		r.InviterCouponCode,
		r.InvitedCouponCode,
		string(r.Status),
		formatTime(r.CreatedAt),
		nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert referral %s: %w", r.ID, err)
	}
	return nil
}

// GetReferralByInvitedCoupon returns the referral whose invitee coupon is code.
func (qs queries) GetReferralByInvitedCoupon(ctx context.Context, code string) (models.Referral, error) {
	query := `SELECT id, inviter_tg_id, invited_tg_id, inviter_coupon_code,
		invited_coupon_code, status, created_at, completed_at
		FROM referrals WHERE invited_coupon_code = ?
		ORDER BY created_at DESC LIMIT 1`

	var (
		r           models.Referral
		status      string
		createdAt   string
		completedAt sql.NullString
	)
	err := qs.q.QueryRowContext(ctx, query, code).Scan(
		&r.ID,
		&r.InviterTgID,
		&r.InvitedTgID,
		&r.InviterCouponCode,
		&r.InvitedCouponCode,
		&status,
		&createdAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Referral{}, ErrNotFound
	}
	if err != nil {
		return models.Referral{}, fmt.Errorf("failed to get referral for coupon %s: %w", code, err)
	}

	r.Status = models.ReferralStatus(status)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Referral{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if r.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return models.Referral{}, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	return r, nil
}

// MarkReferralCompleted completes referrals whose invitee coupon is code.
func (qs queries) MarkReferralCompleted(ctx context.Context, invitedCouponCode string, completedAt time.Time) (int64, error) {
	query := `UPDATE referrals SET status = ?, completed_at = ?
		WHERE invited_coupon_code = ?`

	res, err := qs.q.ExecContext(ctx, query,
		string(models.ReferralStatusCompleted),
		formatTime(completedAt),
		invitedCouponCode,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to complete referral for coupon %s: %w", invitedCouponCode, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// InsertPurchase appends a purchase record.
func (qs queries) InsertPurchase(ctx context.Context, p models.Purchase) error {
	query := `INSERT INTO purchases (
		id, buyer_tg_id, stars_count, coupon_code, discount_percent, created_at
	) VALUES (?, ?, ?, ?, ?, ?)`

	var couponCode sql.NullString
	if p.CouponCode != nil {
		couponCode = sql.NullString{String: *p.CouponCode, Valid: true}
	}

	_, err := qs.q.ExecContext(ctx, query,
		p.ID,
		p.BuyerTgID,
		p.StarsCount,
		couponCode,
		p.DiscountPercent,
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert purchase %s: %w", p.ID, err)
	}
	return nil
}

// ListPurchasesByBuyer returns a buyer's purchases, oldest first.
func (qs queries) ListPurchasesByBuyer(ctx context.Context, buyerTgID string) ([]models.Purchase, error) {
	query := `SELECT id, buyer_tg_id, stars_count, coupon_code, discount_percent, created_at
		FROM purchases WHERE buyer_tg_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := qs.q.QueryContext(ctx, query, buyerTgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	purchases := []models.Purchase{}
	for rows.Next() {
		var (
			p          models.Purchase
			couponCode sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&p.ID, &p.BuyerTgID, &p.StarsCount, &couponCode, &p.DiscountPercent, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		if couponCode.Valid {
			code := couponCode.String
			p.CouponCode = &code
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}

	return purchases, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanCoupon reads couponColumns followed by any extra destinations.
func scanCoupon(s scanner, extra ...any) (models.Coupon, error) {
	var (
		c                    models.Coupon
		couponType, status   string
		inviter, invited     sql.NullString
		createdAt, expiresAt string
		usedAt               sql.NullString
	)

	dest := []any{
		&c.Code,
		&couponType,
		&c.DiscountPercent,
		&c.StarsCount,
		&c.MinStars,
		&c.OwnerTgID,
		&inviter,
		&invited,
		&status,
		&createdAt,
		&expiresAt,
		&usedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return models.Coupon{}, err
	}

	c.Type = models.CouponType(couponType)
	c.Status = models.CouponStatus(status)
	c.InviterTgID = inviter.String
	c.InvitedTgID = invited.String

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Coupon{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if c.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return models.Coupon{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	if c.UsedAt, err = parseNullTime(usedAt); err != nil {
		return models.Coupon{}, fmt.Errorf("failed to parse used_at: %w", err)
	}

	return c, nil
}

// isUniqueViolation reports whether err is a primary key or unique constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
