package crosssource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// eventContentTSV mirrors the expression behind the GIN index on
// perceived_events, so adapter queries stay index-assisted.
const eventContentTSV = `to_tsvector('simple',
	COALESCE(payload->>'subject', '') || ' ' || COALESCE(payload->>'body_plain', ''))`

// eventAdapter searches ingested events of one source. The mail, calendar,
// and chat adapters are all parameterizations of this type; they differ only
// in source, date window, and how the linked-source filter applies.
type eventAdapter struct {
	db     *sql.DB
	source models.Source

	// window bounds occurred_at; nil means unbounded.
	window func(now time.Time) (from, to time.Time)
}

// NewMailAdapter searches mail events: full text across subject, body, and
// sender, unbounded date range.
func NewMailAdapter(db *sql.DB) Adapter {
	return &eventAdapter{db: db, source: models.SourceEmail}
}

// NewCalendarAdapter searches calendar events within [-365d, +90d].
func NewCalendarAdapter(db *sql.DB) Adapter {
	return &eventAdapter{
		db:     db,
		source: models.SourceCalendar,
		window: func(now time.Time) (time.Time, time.Time) {
			return now.AddDate(-1, 0, 0), now.AddDate(0, 0, 90)
		},
	}
}

// NewChatAdapter searches 1:1 and channel messages of one chat source
// (teams, whatsapp), filterable by chat or contact name.
func NewChatAdapter(db *sql.DB, source models.Source) Adapter {
	return &eventAdapter{db: db, source: source}
}

func (a *eventAdapter) SourceName() models.Source { return a.source }

func (a *eventAdapter) IsAvailable() bool { return a.db != nil }

func (a *eventAdapter) Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	// Rank normalization 32 maps ts_rank into [0,1). The participant clause
	// catches sender and contact names the tsvector does not cover.
	q := `SELECT source_id,
	             COALESCE(payload->>'subject', ''),
	             COALESCE(payload->>'body_plain', ''),
	             payload->>'occurred_at',
	             GREATEST(
	                 ts_rank(` + eventContentTSV + `, plainto_tsquery('simple', $1), 32),
	                 CASE WHEN (payload->'participants')::text ILIKE '%' || $1 || '%' THEN 0.5 ELSE 0 END)
	      FROM perceived_events
	      WHERE source = $2
	        AND (` + eventContentTSV + ` @@ plainto_tsquery('simple', $1)
	             OR (payload->'participants')::text ILIKE '%' || $1 || '%')`

	args := []any{query, string(a.source)}

	if opts.Filter != "" {
		args = append(args, "%"+opts.Filter+"%")
		q += fmt.Sprintf(`
	        AND ((payload->'participants')::text ILIKE $%d
	             OR payload->>'thread_id' ILIKE $%d
	             OR payload->>'subject' ILIKE $%d)`, len(args), len(args), len(args))
	}

	if a.window != nil {
		from, to := a.window(time.Now())
		args = append(args, from, to)
		q += fmt.Sprintf(`
	        AND (payload->>'occurred_at')::timestamptz BETWEEN $%d AND $%d`, len(args)-1, len(args))
	}

	args = append(args, limit)
	q += fmt.Sprintf(`
	      ORDER BY 5 DESC, source_id
	      LIMIT $%d`, len(args))

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s events: %w", a.source, err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			sourceID, subject, body string
			occurredAt              sql.NullString
			rank                    float64
		)
		if err := rows.Scan(&sourceID, &subject, &body, &occurredAt, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan %s search row: %w", a.source, err)
		}

		result := models.SearchResult{
			Source:     a.source,
			Identifier: sourceID,
			Title:      subject,
			Snippet:    excerpt(body, 200),
			Score:      rank,
		}
		if occurredAt.Valid {
			if t, err := time.Parse(time.RFC3339, occurredAt.String); err == nil {
				result.OccurredAt = t
			}
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// excerpt returns the first maxLen bytes of text collapsed to one line.
func excerpt(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-1] + "…"
}
