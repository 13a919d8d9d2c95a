package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/snip/internal/database"
	"github.com/vadimbarashkov/snip/internal/models"
)

type linkRecord struct {
	ID          int64        `db:"id"`
	Code        string       `db:"code"`
	OriginalURL string       `db:"original_url"`
	Clicks      int64        `db:"clicks"`
	ExpiresAt   sql.NullTime `db:"expires_at"`
	IsActive    bool         `db:"is_active"`
	CreatedBy   string       `db:"created_by"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r *linkRecord) toLink() *models.Link {
	link := &models.Link{
		ID:          r.ID,
		Code:        r.Code,
		OriginalURL: r.OriginalURL,
		Clicks:      r.Clicks,
		IsActive:    r.IsActive,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		link.ExpiresAt = &t
	}

	return link
}

type clickEventRecord struct {
	OccurredAt time.Time      `db:"occurred_at"`
	IP         string         `db:"ip"`
	UserAgent  string         `db:"user_agent"`
	Referer    sql.NullString `db:"referer"`
}

func (r *clickEventRecord) toClickEvent() models.ClickEvent {
	return models.ClickEvent{
		Timestamp: r.OccurredAt,
		IP:        r.IP,
		UserAgent: r.UserAgent,
		Referer:   r.Referer.String,
	}
}

// sortColumns whitelists the columns exposed for sorting. Anything
// outside this map falls back to clicks.
var sortColumns = map[models.SortBy]string{
	models.SortByClicks:    "clicks",
	models.SortByCreatedAt: "created_at",
	models.SortByCode:      "code",
}

// LinkRepository persists links and their click event logs in PostgreSQL.
type LinkRepository struct {
	db *sqlx.DB
}

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{
		db: db,
	}
}

// Create inserts a new link record. The unique index on code backstops
// concurrent creates racing on the same generated code.
func (r *LinkRepository) Create(ctx context.Context, code, originalURL string, expiresAt *time.Time, owner string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.Create"

	rec := new(linkRecord)
	query := `INSERT INTO links(code, original_url, expires_at, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query, code, originalURL, expiresAt, owner)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrCodeExists)
		}

		return nil, fmt.Errorf("%s: failed to create link record: %w", op, err)
	}

	return rec.toLink(), nil
}

// FindByCode retrieves an active link by its short code.
func (r *LinkRepository) FindByCode(ctx context.Context, code string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.FindByCode"

	rec := new(linkRecord)
	query := `SELECT * FROM links
		WHERE code = $1 AND is_active`

	err := r.db.GetContext(ctx, rec, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.toLink(), nil
}

// FindByOriginalURL retrieves an active, never-expiring link for the given
// URL and owner. Used for dedup of plain shorten requests.
func (r *LinkRepository) FindByOriginalURL(ctx context.Context, originalURL, owner string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.FindByOriginalURL"

	rec := new(linkRecord)
	query := `SELECT * FROM links
		WHERE original_url = $1 AND created_by = $2 AND is_active AND expires_at IS NULL`

	err := r.db.GetContext(ctx, rec, query, originalURL, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.toLink(), nil
}

// ExistsByCode reports whether a code is taken by any link, active or not.
func (r *LinkRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	const op = "database.postgres.LinkRepository.ExistsByCode"

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM links WHERE code = $1)`

	if err := r.db.GetContext(ctx, &exists, query, code); err != nil {
		return false, fmt.Errorf("%s: failed to check code existence: %w", op, err)
	}

	return exists, nil
}

// RecordClick increments the click counter and appends one click event,
// pruning the event log to the most recent models.MaxClickEvents entries.
// The row lock taken by the counter update serializes concurrent clicks on
// the same link, so the counter never loses increments even when pruning
// drops event detail.
func (r *LinkRepository) RecordClick(ctx context.Context, code string, meta models.ClickMeta) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.RecordClick"

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	rec := new(linkRecord)
	query := `UPDATE links
		SET clicks = clicks + 1, updated_at = now()
		WHERE code = $1 AND is_active
		RETURNING *`

	if err := tx.GetContext(ctx, rec, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to increment clicks: %w", op, err)
	}

	meta = meta.WithDefaults()
	referer := sql.NullString{String: meta.Referer, Valid: meta.Referer != ""}

	query = `INSERT INTO click_events(link_id, ip, user_agent, referer)
		VALUES ($1, $2, $3, $4)`

	if _, err := tx.ExecContext(ctx, query, rec.ID, meta.IP, meta.UserAgent, referer); err != nil {
		return nil, fmt.Errorf("%s: failed to append click event: %w", op, err)
	}

	query = `DELETE FROM click_events
		WHERE link_id = $1 AND id NOT IN (
			SELECT id FROM click_events
			WHERE link_id = $1
			ORDER BY id DESC
			LIMIT $2
		)`

	if _, err := tx.ExecContext(ctx, query, rec.ID, models.MaxClickEvents); err != nil {
		return nil, fmt.Errorf("%s: failed to prune click events: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	return rec.toLink(), nil
}

// FindAll returns one page of active links for the owner plus the total
// count. The click event log is not loaded.
func (r *LinkRepository) FindAll(ctx context.Context, page, limit int, sortBy models.SortBy, order models.Order, owner string) ([]*models.Link, int64, error) {
	const op = "database.postgres.LinkRepository.FindAll"

	column, ok := sortColumns[sortBy]
	if !ok {
		column = "clicks"
	}

	direction := "DESC"
	if order == models.OrderAsc {
		direction = "ASC"
	}

	offset := (page - 1) * limit

	var recs []linkRecord
	query := fmt.Sprintf(`SELECT * FROM links
		WHERE is_active AND created_by = $1
		ORDER BY %s %s
		LIMIT $2 OFFSET $3`, column, direction)

	if err := r.db.SelectContext(ctx, &recs, query, owner, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%s: failed to list link records: %w", op, err)
	}

	var total int64
	query = `SELECT count(*) FROM links
		WHERE is_active AND created_by = $1`

	if err := r.db.GetContext(ctx, &total, query, owner); err != nil {
		return nil, 0, fmt.Errorf("%s: failed to count link records: %w", op, err)
	}

	links := make([]*models.Link, 0, len(recs))
	for i := range recs {
		links = append(links, recs[i].toLink())
	}

	return links, total, nil
}

// FindWithAnalytics retrieves a link with its full click event log in
// insertion order. Soft-deleted links are still visible here so analytics
// remain available after a delete.
func (r *LinkRepository) FindWithAnalytics(ctx context.Context, code, owner string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.FindWithAnalytics"

	rec := new(linkRecord)
	query := `SELECT * FROM links
		WHERE code = $1 AND created_by = $2`

	err := r.db.GetContext(ctx, rec, query, code, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	var eventRecs []clickEventRecord
	query = `SELECT occurred_at, ip, user_agent, referer FROM click_events
		WHERE link_id = $1
		ORDER BY id ASC`

	if err := r.db.SelectContext(ctx, &eventRecs, query, rec.ID); err != nil {
		return nil, fmt.Errorf("%s: failed to get click events: %w", op, err)
	}

	link := rec.toLink()
	link.ClickEvents = make([]models.ClickEvent, 0, len(eventRecs))
	for i := range eventRecs {
		link.ClickEvents = append(link.ClickEvents, eventRecs[i].toClickEvent())
	}

	return link, nil
}

// SoftDelete marks an active link inactive. Repeat deletes report
// ErrLinkNotFound because only active rows match.
func (r *LinkRepository) SoftDelete(ctx context.Context, code, owner string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.SoftDelete"

	rec := new(linkRecord)
	query := `UPDATE links
		SET is_active = FALSE, updated_at = now()
		WHERE code = $1 AND created_by = $2 AND is_active
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query, code, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to soft delete link record: %w", op, err)
	}

	return rec.toLink(), nil
}

// HardDelete physically removes a link and its click events. Administrative
// path only; normal traffic uses SoftDelete.
func (r *LinkRepository) HardDelete(ctx context.Context, code string) error {
	const op = "database.postgres.LinkRepository.HardDelete"

	res, err := r.db.ExecContext(ctx, `DELETE FROM links WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("%s: failed to delete link record: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	return nil
}

// Count returns the number of active links across all owners.
func (r *LinkRepository) Count(ctx context.Context) (int64, error) {
	const op = "database.postgres.LinkRepository.Count"

	var total int64
	query := `SELECT count(*) FROM links WHERE is_active`

	if err := r.db.GetContext(ctx, &total, query); err != nil {
		return 0, fmt.Errorf("%s: failed to count link records: %w", op, err)
	}

	return total, nil
}
