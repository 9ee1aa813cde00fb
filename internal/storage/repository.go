// Package storage is the SQLite ledger: a local record source for the
// sqlite backend and the archive of generated monthly reports.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/session"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db     *sql.DB
	auth   *records.LocalAuth
	logger *log.Logger
}

var (
	_ records.Source = (*SQLiteRepository)(nil)
	_ records.Seeder = (*SQLiteRepository)(nil)
)

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// migrates it. auth may be nil when the repository only serves as a report
// archive.
func NewSQLiteRepository(dbPath string, auth *records.LocalAuth, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{
		db:     db,
		auth:   auth,
		logger: logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers. Used by the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Empty reports whether the ledger holds no users yet.
func (r *SQLiteRepository) Empty(ctx context.Context) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return n == 0, nil
}

func (r *SQLiteRepository) authorize(sess *session.Session) error {
	if r.auth == nil {
		return records.ErrUnauthorized
	}
	return r.auth.Authorize(sess)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}

// Seeding

func (r *SQLiteRepository) SeedUser(ctx context.Context, u core.User, passwordHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role_level, headquarter, password_hash,
			rate_headquarter_cents, rate_ex_station_cents, rate_out_station_cents, rate_travel_per_km_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role_level = excluded.role_level,
			headquarter = excluded.headquarter,
			password_hash = excluded.password_hash,
			rate_headquarter_cents = excluded.rate_headquarter_cents,
			rate_ex_station_cents = excluded.rate_ex_station_cents,
			rate_out_station_cents = excluded.rate_out_station_cents,
			rate_travel_per_km_cents = excluded.rate_travel_per_km_cents`,
		u.ID, u.Name, strings.ToLower(u.Email), u.RoleLevel, u.Headquarter, passwordHash,
		u.Rates.Headquarter.Cents, u.Rates.ExStation.Cents, u.Rates.OutStation.Cents, u.Rates.TravelPerKm.Cents)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_routes WHERE user_id = ?`, u.ID); err != nil {
		return fmt.Errorf("clear assigned routes: %w", err)
	}
	for i, routeID := range u.AssignedRoutes {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_routes (user_id, route_id, position) VALUES (?, ?, ?)`,
			u.ID, routeID, i); err != nil {
			return fmt.Errorf("assign route %s: %w", routeID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) SeedRoute(ctx context.Context, rt core.Route) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO routes (id, headquarter, from_place, to_place, distance_km)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			headquarter = excluded.headquarter,
			from_place = excluded.from_place,
			to_place = excluded.to_place,
			distance_km = excluded.distance_km`,
		rt.ID, rt.Headquarter, rt.From, rt.To, rt.DistanceKm)
	if err != nil {
		return fmt.Errorf("upsert route: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SeedCheckin(ctx context.Context, userID string, c core.CheckinRecord) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkins (user_id, date, check_in_time, check_out_time, allowance_cents, condition)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, c.Date.String(), nullTime(c.CheckInTime), nullTime(c.CheckOutTime), c.Allowance.Cents, string(c.Condition))
	if err != nil {
		return fmt.Errorf("insert checkin: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SeedClaim(ctx context.Context, userID string, c core.TravelClaim) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO travel_claims (user_id, date, route_id, station_type, amount_cents)
		VALUES (?, ?, ?, ?, ?)`,
		userID, c.Date.String(), c.RouteID, c.StationType, c.Amount.Cents)
	if err != nil {
		return fmt.Errorf("insert travel claim: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SeedMisc(ctx context.Context, userID string, m core.MiscClaim) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("%s:%s:%d", userID, m.Date.String(), time.Now().UnixNano())
	}
	status := m.Status
	if status == "" {
		status = core.ClaimPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO misc_claims (id, user_id, date, name, price_cents, attachment_ref, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, userID, m.Date.String(), m.Name, m.Price.Cents, m.AttachmentRef, string(status))
	if err != nil {
		return fmt.Errorf("insert misc claim: %w", err)
	}
	return nil
}

// Reads

func (r *SQLiteRepository) Login(ctx context.Context, email, password string) (core.User, string, error) {
	if r.auth == nil {
		return core.User{}, "", records.ErrInvalidCredentials
	}
	var id, hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, "", records.ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if err := r.auth.CheckPassword(hash, password); err != nil {
		return core.User{}, "", err
	}

	users, err := r.users(ctx, `WHERE u.id = ?`, id)
	if err != nil {
		return core.User{}, "", err
	}
	if len(users) == 0 {
		return core.User{}, "", records.ErrUserNotFound
	}
	token, err := r.auth.Issue(id)
	if err != nil {
		return core.User{}, "", err
	}
	return users[0], token, nil
}

func (r *SQLiteRepository) userExists(ctx context.Context, userID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return records.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) History(ctx context.Context, sess *session.Session, userID string) (core.History, error) {
	if err := r.authorize(sess); err != nil {
		return core.History{}, err
	}
	if err := r.userExists(ctx, userID); err != nil {
		return core.History{}, err
	}

	var h core.History
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, check_in_time, check_out_time, allowance_cents, condition
		FROM checkins WHERE user_id = ? ORDER BY date, id`, userID)
	if err != nil {
		return core.History{}, fmt.Errorf("query checkins: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			date, condition string
			in, out         sql.NullString
			cents           int64
		)
		if err := rows.Scan(&date, &in, &out, &cents, &condition); err != nil {
			return core.History{}, fmt.Errorf("scan checkin: %w", err)
		}
		c := core.CheckinRecord{Allowance: core.Money{Cents: cents}, Condition: core.Condition(condition)}
		if c.Date, err = core.ParseDate(date); err != nil {
			return core.History{}, err
		}
		if c.CheckInTime, err = parseNullTime(in); err != nil {
			return core.History{}, fmt.Errorf("parse check-in time: %w", err)
		}
		if c.CheckOutTime, err = parseNullTime(out); err != nil {
			return core.History{}, fmt.Errorf("parse check-out time: %w", err)
		}
		h.Checkins = append(h.Checkins, c)
	}
	if err := rows.Err(); err != nil {
		return core.History{}, fmt.Errorf("iterate checkins: %w", err)
	}

	claimRows, err := r.db.QueryContext(ctx, `
		SELECT date, route_id, station_type, amount_cents
		FROM travel_claims WHERE user_id = ? ORDER BY date, id`, userID)
	if err != nil {
		return core.History{}, fmt.Errorf("query travel claims: %w", err)
	}
	defer claimRows.Close()
	for claimRows.Next() {
		var (
			date  string
			cl    core.TravelClaim
			cents int64
		)
		if err := claimRows.Scan(&date, &cl.RouteID, &cl.StationType, &cents); err != nil {
			return core.History{}, fmt.Errorf("scan travel claim: %w", err)
		}
		if cl.Date, err = core.ParseDate(date); err != nil {
			return core.History{}, err
		}
		cl.Amount = core.Money{Cents: cents}
		h.Claims = append(h.Claims, cl)
	}
	if err := claimRows.Err(); err != nil {
		return core.History{}, fmt.Errorf("iterate travel claims: %w", err)
	}
	return h, nil
}

func (r *SQLiteRepository) MiscClaims(ctx context.Context, sess *session.Session, userID string) ([]core.MiscClaim, error) {
	if err := r.authorize(sess); err != nil {
		return nil, err
	}
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, name, price_cents, attachment_ref, status
		FROM misc_claims WHERE user_id = ? ORDER BY date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query misc claims: %w", err)
	}
	defer rows.Close()

	var out []core.MiscClaim
	for rows.Next() {
		var (
			m            core.MiscClaim
			date, status string
			cents        int64
		)
		if err := rows.Scan(&m.ID, &date, &m.Name, &cents, &m.AttachmentRef, &status); err != nil {
			return nil, fmt.Errorf("scan misc claim: %w", err)
		}
		if m.Date, err = core.ParseDate(date); err != nil {
			return nil, err
		}
		m.Price = core.Money{Cents: cents}
		m.Status = core.ClaimStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Routes(ctx context.Context, sess *session.Session) ([]core.Route, error) {
	if err := r.authorize(sess); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, headquarter, from_place, to_place, distance_km FROM routes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var out []core.Route
	for rows.Next() {
		var rt core.Route
		if err := rows.Scan(&rt.ID, &rt.Headquarter, &rt.From, &rt.To, &rt.DistanceKm); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Users(ctx context.Context, sess *session.Session) ([]core.User, error) {
	if err := r.authorize(sess); err != nil {
		return nil, err
	}
	return r.users(ctx, "")
}

func (r *SQLiteRepository) users(ctx context.Context, where string, args ...any) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.role_level, u.headquarter,
			u.rate_headquarter_cents, u.rate_ex_station_cents, u.rate_out_station_cents, u.rate_travel_per_km_cents,
			COALESCE((SELECT group_concat(route_id, ',') FROM
				(SELECT route_id FROM user_routes ur WHERE ur.user_id = u.id ORDER BY position)), '')
		FROM users u `+where+` ORDER BY u.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []core.User
	for rows.Next() {
		var (
			u      core.User
			routes string
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.RoleLevel, &u.Headquarter,
			&u.Rates.Headquarter.Cents, &u.Rates.ExStation.Cents, &u.Rates.OutStation.Cents, &u.Rates.TravelPerKm.Cents,
			&routes); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if routes != "" {
			u.AssignedRoutes = strings.Split(routes, ",")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
