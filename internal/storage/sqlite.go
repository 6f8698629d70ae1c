package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"touchbase/internal/checkin"
	logx "touchbase/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqlite variable limit is 999 on older builds; stay well below it.
const maxIDsPerStatement = 400

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id FROM contacts UNION SELECT owner_id FROM checkins ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const contactCols = `owner_id, id, name, address, frequency, last_interaction_ms, next_due_ms`

func scanContact(sc interface{ Scan(...any) error }) (checkin.Contact, error) {
	var (
		c      checkin.Contact
		addr   sql.NullString
		freq   string
		lastMS sql.NullInt64
		nextMS sql.NullInt64
	)
	if err := sc.Scan(&c.OwnerID, &c.ID, &c.Name, &addr, &freq, &lastMS, &nextMS); err != nil {
		return checkin.Contact{}, err
	}
	c.Address = addr.String
	c.Frequency = checkin.Frequency(freq)
	c.LastInteraction = msPtr(lastMS)
	c.NextDue = msPtr(nextMS)
	return c, nil
}

func (s *sqliteStore) ListContacts(ctx context.Context, owner string) ([]checkin.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+contactCols+` FROM contacts WHERE owner_id = ? ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]checkin.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetContact(ctx context.Context, owner, id string) (checkin.Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactCols+` FROM contacts WHERE owner_id = ? AND id = ?`, owner, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkin.Contact{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) InsertContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error) {
	if err := validateContact(c); err != nil {
		return checkin.Contact{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(`+contactCols+`) VALUES(?,?,?,?,?,?,?)`,
		c.OwnerID, c.ID, c.Name, nullStr(c.Address), string(c.Frequency), ptrMS(c.LastInteraction), ptrMS(c.NextDue),
	)
	if err != nil {
		return checkin.Contact{}, err
	}
	return c, nil
}

func (s *sqliteStore) UpdateContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error) {
	if err := validateContact(c); err != nil {
		return checkin.Contact{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET name=?, address=?, frequency=?, last_interaction_ms=?, next_due_ms=?
		 WHERE owner_id=? AND id=?`,
		c.Name, nullStr(c.Address), string(c.Frequency), ptrMS(c.LastInteraction), ptrMS(c.NextDue), c.OwnerID, c.ID,
	)
	if err != nil {
		return checkin.Contact{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return checkin.Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *sqliteStore) DeleteContact(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE owner_id=? AND id=?`, owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const checkInCols = `owner_id, id, contact_id, date_ms, status, type, notes, manual, created_ms, updated_ms`

func scanCheckIn(sc interface{ Scan(...any) error }) (checkin.CheckIn, error) {
	var (
		c                checkin.CheckIn
		dateMS           int64
		status, typ      string
		notes            sql.NullString
		manual           int
		createdMS, updMS int64
	)
	if err := sc.Scan(&c.OwnerID, &c.ID, &c.ContactID, &dateMS, &status, &typ, &notes, &manual, &createdMS, &updMS); err != nil {
		return checkin.CheckIn{}, err
	}
	c.Date = time.UnixMilli(dateMS)
	c.Status = checkin.Status(status)
	c.Type = checkin.Type(typ)
	c.Notes = notes.String
	c.Manual = manual != 0
	c.CreatedAt = time.UnixMilli(createdMS)
	c.UpdatedAt = time.UnixMilli(updMS)
	return c, nil
}

func (s *sqliteStore) ListCheckIns(ctx context.Context, f CheckInFilter) ([]checkin.CheckIn, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.ContactID != "" {
		where = append(where, "contact_id = ?")
		args = append(args, f.ContactID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if !f.Before.IsZero() {
		where = append(where, "date_ms < ?")
		args = append(args, f.Before.UnixMilli())
	}
	if !f.After.IsZero() {
		where = append(where, "date_ms > ?")
		args = append(args, f.After.UnixMilli())
	}
	q := `SELECT ` + checkInCols + ` FROM checkins`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY date_ms, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]checkin.CheckIn, 0)
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetCheckIn(ctx context.Context, owner, id string) (checkin.CheckIn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkInCols+` FROM checkins WHERE owner_id=? AND id=?`, owner, id)
	c, err := scanCheckIn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkin.CheckIn{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) InsertCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error) {
	if err := validateCheckIn(c); err != nil {
		return checkin.CheckIn{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkins(`+checkInCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		c.OwnerID, c.ID, c.ContactID, c.Date.UnixMilli(), string(c.Status), string(c.Type),
		nullStr(c.Notes), boolInt(c.Manual), c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return checkin.CheckIn{}, err
	}
	return c, nil
}

func (s *sqliteStore) UpdateCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error) {
	if err := validateCheckIn(c); err != nil {
		return checkin.CheckIn{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkins SET contact_id=?, date_ms=?, status=?, type=?, notes=?, manual=?, updated_ms=?
		 WHERE owner_id=? AND id=?`,
		c.ContactID, c.Date.UnixMilli(), string(c.Status), string(c.Type), nullStr(c.Notes),
		boolInt(c.Manual), c.UpdatedAt.UnixMilli(), c.OwnerID, c.ID,
	)
	if err != nil {
		return checkin.CheckIn{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return checkin.CheckIn{}, ErrNotFound
	}
	return c, nil
}

func (s *sqliteStore) DeleteCheckIn(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkins WHERE owner_id=? AND id=?`, owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ApplyBulk(ctx context.Context, u BulkUpdate) (map[checkin.Status]int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	base := `UPDATE checkins SET status=?, updated_ms=?
		WHERE owner_id=? AND status=? AND date_ms<?`
	res := map[checkin.Status]int{}
	for _, tr := range u.Transitions {
		exec := func(extra string, ids []string) error {
			args := []any{string(tr.To), at.UnixMilli(), u.OwnerID, string(u.From), u.Before.UnixMilli()}
			for _, id := range ids {
				args = append(args, id)
			}
			r, err := tx.ExecContext(ctx, base+extra, args...)
			if err != nil {
				return err
			}
			n, _ := r.RowsAffected()
			res[tr.To] += int(n)
			return nil
		}
		if tr.IDs == nil {
			if err := exec("", nil); err != nil {
				return nil, err
			}
			continue
		}
		for start := 0; start < len(tr.IDs); start += maxIDsPerStatement {
			end := min(start+maxIDsPerStatement, len(tr.IDs))
			chunk := tr.IDs[start:end]
			if err := exec(" AND id IN ("+placeholders(len(chunk))+")", chunk); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *sqliteStore) GetFeedToken(ctx context.Context, owner string) (checkin.FeedToken, error) {
	var (
		t  checkin.FeedToken
		ms int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT owner_id, token, created_ms FROM feed_tokens WHERE owner_id=?`, owner).
		Scan(&t.OwnerID, &t.Token, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return checkin.FeedToken{}, ErrNotFound
	}
	if err != nil {
		return checkin.FeedToken{}, err
	}
	t.CreatedAt = time.UnixMilli(ms)
	return t, nil
}

func (s *sqliteStore) PutFeedToken(ctx context.Context, t checkin.FeedToken) error {
	if t.OwnerID == "" || t.Token == "" {
		return ErrInvalid
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_tokens(owner_id, token, created_ms) VALUES(?,?,?)
		 ON CONFLICT(owner_id) DO UPDATE SET token=excluded.token, created_ms=excluded.created_ms`,
		t.OwnerID, t.Token, t.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) AddFeedToken(ctx context.Context, t checkin.FeedToken) (checkin.FeedToken, error) {
	if t.OwnerID == "" || t.Token == "" {
		return checkin.FeedToken{}, ErrInvalid
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_tokens(owner_id, token, created_ms) VALUES(?,?,?)
		 ON CONFLICT(owner_id) DO NOTHING`,
		t.OwnerID, t.Token, t.CreatedAt.UnixMilli(),
	); err != nil {
		return checkin.FeedToken{}, err
	}
	return s.GetFeedToken(ctx, t.OwnerID)
}

func (s *sqliteStore) OwnerForFeedToken(ctx context.Context, token string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM feed_tokens WHERE token=?`, token).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ptrMS(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func msPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
