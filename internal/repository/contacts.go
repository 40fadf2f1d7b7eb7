package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmoiron/sqlx"
)

// ContactsRepository resolves recorded contacts (newsletter sign-ups, leads,
// course purchasers) into a deduplicated recipient list.
type ContactsRepository interface {
	Resolve(ctx context.Context, f model.RecipientFilter) ([]model.Recipient, error)
}

type ContactsRepositoryImpl struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewContactsRepository(db *sqlx.DB) *ContactsRepositoryImpl {
	return &ContactsRepositoryImpl{db: db, now: time.Now}
}

// ErrBadFilter marks a filter descriptor that cannot be resolved as given.
var ErrBadFilter = errors.New("bad recipient filter")

// ContactWriter records contacts and purchases; used by seeding and imports.
type ContactWriter interface {
	InsertContact(ctx context.Context, r model.Recipient, source string, optedIn bool, at time.Time) error
	InsertPurchase(ctx context.Context, r model.Recipient, offering string, at time.Time) error
}

var (
	_ ContactsRepository = (*ContactsRepositoryImpl)(nil)
	_ ContactWriter      = (*ContactsRepositoryImpl)(nil)
)

const (
	contactsBase  = `SELECT email, name, created_at FROM contacts WHERE status = 'active'`
	purchasesBase = `SELECT email, name, created_at FROM course_purchases WHERE 1 = 1`
)

// query builds the union for a filter. Rows come back oldest first so the
// earliest recorded name wins during deduplication.
func (r *ContactsRepositoryImpl) query(f model.RecipientFilter) (string, []any, error) {
	switch f.Kind {
	case model.FilterAll, "":
		return contactsBase + ` UNION ALL ` + purchasesBase + ` ORDER BY created_at`, nil, nil
	case model.FilterOptedIn:
		return contactsBase + ` AND opted_in = 1 ORDER BY created_at`, nil, nil
	case model.FilterRecent:
		if f.Days <= 0 {
			return "", nil, fmt.Errorf("%w: recent filter: days must be positive", ErrBadFilter)
		}
		since := r.now().UTC().Add(-time.Duration(f.Days) * 24 * time.Hour)
		return contactsBase + ` AND created_at >= ? UNION ALL ` + purchasesBase + ` AND created_at >= ? ORDER BY created_at`,
			[]any{since, since}, nil
	case model.FilterSource:
		if strings.TrimSpace(f.Source) == "" {
			return "", nil, fmt.Errorf("%w: source filter: source is required", ErrBadFilter)
		}
		return contactsBase + ` AND source = ? ORDER BY created_at`, []any{strings.TrimSpace(f.Source)}, nil
	case model.FilterOffering:
		if strings.TrimSpace(f.Offering) == "" {
			return "", nil, fmt.Errorf("%w: offering filter: offering is required", ErrBadFilter)
		}
		return purchasesBase + ` AND offering = ? ORDER BY created_at`, []any{strings.TrimSpace(f.Offering)}, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown filter kind %q", ErrBadFilter, f.Kind)
	}
}

type contactRow struct {
	Email     string    `db:"email"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *ContactsRepositoryImpl) Resolve(ctx context.Context, f model.RecipientFilter) ([]model.Recipient, error) {
	q, args, err := r.query(f)
	if err != nil {
		return nil, err
	}
	var rows []contactRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}

	recips := make([]model.Recipient, 0, len(rows))
	for _, row := range rows {
		recips = append(recips, model.Recipient{Email: row.Email, Name: row.Name})
	}
	return Dedupe(recips), nil
}

// Dedupe merges recipients case-insensitively on address, keeping first-seen
// order and the first non-empty display name. Blank addresses are dropped.
func Dedupe(in []model.Recipient) []model.Recipient {
	idx := make(map[string]int, len(in))
	out := make([]model.Recipient, 0, len(in))
	for _, rc := range in {
		key := strings.ToLower(strings.TrimSpace(rc.Email))
		if key == "" {
			continue
		}
		name := strings.TrimSpace(rc.Name)
		if i, ok := idx[key]; ok {
			if out[i].Name == "" {
				out[i].Name = name
			}
			continue
		}
		idx[key] = len(out)
		out = append(out, model.Recipient{Email: key, Name: name})
	}
	return out
}

// InsertContact skips rows already recorded for the same address and source.
func (r *ContactsRepositoryImpl) InsertContact(ctx context.Context, rc model.Recipient, source string, optedIn bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (email, name, source, opted_in, status, created_at)
		SELECT ?, ?, ?, ?, 'active', ?
		FROM DUAL
		WHERE NOT EXISTS (SELECT 1 FROM contacts WHERE email = ? AND source = ?)
	`, rc.Email, rc.Name, source, optedIn, at, rc.Email, source)
	return err
}

// InsertPurchase skips rows already recorded for the same address and offering.
func (r *ContactsRepositoryImpl) InsertPurchase(ctx context.Context, rc model.Recipient, offering string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_purchases (email, name, offering, created_at)
		SELECT ?, ?, ?, ?
		FROM DUAL
		WHERE NOT EXISTS (SELECT 1 FROM course_purchases WHERE email = ? AND offering = ?)
	`, rc.Email, rc.Name, offering, at, rc.Email, offering)
	return err
}
