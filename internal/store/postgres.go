package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/mailsink/mailsink/internal/mail"
)

// Postgres is the production MailStore. Substring predicates use
// strpos(), which is case-sensitive and free of pattern metacharacters,
// so filter input needs no escaping.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

const messageColumns = `id, from_group, to_groups, cc_groups, from_text,
	subject, body_text, body_html, headers, sent_at, lang, attachments`

type messageRow struct {
	ID          uuid.UUID  `db:"id"`
	FromGroup   []byte     `db:"from_group"`
	ToGroups    []byte     `db:"to_groups"`
	CcGroups    []byte     `db:"cc_groups"`
	FromText    string     `db:"from_text"`
	Subject     string     `db:"subject"`
	BodyText    string     `db:"body_text"`
	BodyHTML    *string    `db:"body_html"`
	Headers     []byte     `db:"headers"`
	SentAt      *time.Time `db:"sent_at"`
	Lang        string     `db:"lang"`
	Attachments []byte     `db:"attachments"`
}

func (r *messageRow) toMessage() (*mail.Message, error) {
	msg := &mail.Message{
		ID:      r.ID,
		Subject: r.Subject,
		Text:    r.BodyText,
		SentAt:  r.SentAt,
		Lang:    r.Lang,
	}
	if r.BodyHTML != nil {
		msg.HTML = *r.BodyHTML
	}
	if len(r.FromGroup) > 0 {
		var from mail.AddressGroup
		if err := json.Unmarshal(r.FromGroup, &from); err != nil {
			return nil, fmt.Errorf("decode from_group: %w", err)
		}
		msg.From = &from
	}
	if err := json.Unmarshal(r.ToGroups, &msg.To); err != nil {
		return nil, fmt.Errorf("decode to_groups: %w", err)
	}
	if err := json.Unmarshal(r.CcGroups, &msg.Cc); err != nil {
		return nil, fmt.Errorf("decode cc_groups: %w", err)
	}
	if err := json.Unmarshal(r.Headers, &msg.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if err := json.Unmarshal(r.Attachments, &msg.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return msg, nil
}

func (s *Postgres) Insert(ctx context.Context, msg *mail.Message) (uuid.UUID, error) {
	id := mail.NewID()

	var fromGroup []byte
	if msg.From != nil {
		b, err := json.Marshal(msg.From)
		if err != nil {
			return uuid.Nil, fmt.Errorf("encode from_group: %w", err)
		}
		fromGroup = b
	}
	toGroups, err := json.Marshal(emptySlice(msg.To))
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode to_groups: %w", err)
	}
	ccGroups, err := json.Marshal(emptySlice(msg.Cc))
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode cc_groups: %w", err)
	}
	headers := msg.Headers
	if headers == nil {
		headers = map[string][]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode headers: %w", err)
	}
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []mail.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode attachments: %w", err)
	}

	var bodyHTML *string
	if msg.HTML != "" {
		bodyHTML = &msg.HTML
	}

	query := `
		INSERT INTO messages (
			id, from_group, to_groups, cc_groups, from_text,
			subject, body_text, body_html, headers, sent_at, lang, attachments
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		id, fromGroup, toGroups, ccGroups, msg.FromText(),
		msg.Subject, msg.Text, bodyHTML, headersJSON, msg.SentAt, msg.Lang, attachmentsJSON,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}

	msg.ID = id
	return id, nil
}

func emptySlice(groups []mail.AddressGroup) []mail.AddressGroup {
	if groups == nil {
		return []mail.AddressGroup{}
	}
	return groups
}

func (s *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*mail.Message, error) {
	var row messageRow
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, mail.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return row.toMessage()
}

func (s *Postgres) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f, 1)
	var count int
	query := `SELECT COUNT(*) FROM messages` + where
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *Postgres) DeleteByID(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if affected == 0 {
		return mail.ErrNotFound
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, q Query) (Iterator, error) {
	where, args := buildWhere(q.Filter, 1)
	argIdx := len(args) + 1

	conds := []string{}
	if q.Keyset != nil {
		cond, keysetArgs := buildKeyset(q.Sort.Field, q.Keyset, argIdx)
		conds = append(conds, cond)
		args = append(args, keysetArgs...)
		argIdx += len(keysetArgs)
	}
	if len(conds) > 0 {
		if where == "" {
			where = " WHERE " + strings.Join(conds, " AND ")
		} else {
			where += " AND " + strings.Join(conds, " AND ")
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM messages%s%s`,
		messageColumns, where, orderBy(q.Sort))
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Skip > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Skip)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return &rowsIterator{rows: rows}, nil
}

// buildWhere translates a Filter into a WHERE clause. The to predicate
// matches the display text of any recipient group, like the original
// to.text search.
func buildWhere(f Filter, argIdx int) (string, []any) {
	conds := []string{}
	args := []any{}

	if f.To != "" {
		conds = append(conds, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM jsonb_array_elements(to_groups) AS g WHERE strpos(g->>'text', $%d) > 0)`, argIdx))
		args = append(args, f.To)
		argIdx++
	}
	if f.Subject != "" {
		conds = append(conds, fmt.Sprintf(`strpos(subject, $%d) > 0`, argIdx))
		args = append(args, f.Subject)
		argIdx++
	}
	if f.Text != "" {
		conds = append(conds, fmt.Sprintf(`strpos(body_text, $%d) > 0`, argIdx))
		args = append(args, f.Text)
		argIdx++
	}
	if f.Lang != "" {
		conds = append(conds, fmt.Sprintf(`lang = $%d`, argIdx))
		args = append(args, f.Lang)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildKeyset translates a keyset window into SQL. For the date field
// undated rows sort before all dated rows ascending, so the predicate
// carries explicit NULL branches.
func buildKeyset(field SortField, ks *Keyset, argIdx int) (string, []any) {
	op := string(ks.Op)

	switch field {
	case SortID:
		return fmt.Sprintf(`id %s $%d`, op, argIdx), []any{ks.ID}

	case SortDate:
		pivot, _ := ks.Value.(*time.Time)
		if pivot == nil {
			if ks.Op == OpGreater {
				return fmt.Sprintf(`(sent_at IS NOT NULL OR (sent_at IS NULL AND id > $%d))`, argIdx),
					[]any{ks.ID}
			}
			return fmt.Sprintf(`(sent_at IS NULL AND id < $%d)`, argIdx), []any{ks.ID}
		}
		if ks.Op == OpGreater {
			return fmt.Sprintf(`(sent_at > $%d OR (sent_at = $%d AND id > $%d))`,
				argIdx, argIdx+1, argIdx+2), []any{*pivot, *pivot, ks.ID}
		}
		return fmt.Sprintf(`(sent_at < $%d OR sent_at IS NULL OR (sent_at = $%d AND id < $%d))`,
			argIdx, argIdx+1, argIdx+2), []any{*pivot, *pivot, ks.ID}

	default: // from_text, subject: NOT NULL text columns
		col := sortColumn(field)
		value, _ := ks.Value.(string)
		return fmt.Sprintf(`(%s %s $%d OR (%s = $%d AND id %s $%d))`,
			col, op, argIdx, col, argIdx+1, op, argIdx+2), []any{value, value, ks.ID}
	}
}

func sortColumn(field SortField) string {
	switch field {
	case SortFrom:
		return "from_text"
	case SortSubject:
		return "subject"
	case SortDate:
		return "sent_at"
	default:
		return "id"
	}
}

func orderBy(s Sort) string {
	dir := "ASC"
	if s.Direction == Desc {
		dir = "DESC"
	}
	switch s.Field {
	case SortID, "":
		return fmt.Sprintf(" ORDER BY id %s", dir)
	case SortDate:
		nulls := "NULLS FIRST"
		if s.Direction == Desc {
			nulls = "NULLS LAST"
		}
		return fmt.Sprintf(" ORDER BY sent_at %s %s, id %s", dir, nulls, dir)
	default:
		return fmt.Sprintf(" ORDER BY %s %s, id %s", sortColumn(s.Field), dir, dir)
	}
}

type rowsIterator struct {
	rows *sqlx.Rows
	cur  *mail.Message
	err  error
}

func (it *rowsIterator) Next(_ context.Context) bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var row messageRow
	if err := it.rows.StructScan(&row); err != nil {
		it.err = err
		return false
	}
	msg, err := row.toMessage()
	if err != nil {
		it.err = err
		return false
	}
	it.cur = msg
	return true
}

func (it *rowsIterator) Message() *mail.Message { return it.cur }

func (it *rowsIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowsIterator) Close() error { return it.rows.Close() }
