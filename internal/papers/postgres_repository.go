package papers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresRepository returns a SummaryRepository backed by Postgres,
// grounded on the teacher's chat_store_postgres.go `ON CONFLICT DO NOTHING
// ... RETURNING` idiom for idempotent inserts.
func NewPostgresRepository(pool *pgxpool.Pool) SummaryRepository {
	return &pgRepository{pool: pool}
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// InitSchema creates the papers, users, default_summaries, custom_summaries,
// edited_summaries and user_paper_links tables. It is separated from
// NewPostgresRepository so callers can run it once at startup alongside the
// rest of the relational schema (prompts.InitSchema).
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS papers (
    id BIGSERIAL PRIMARY KEY,
    external_id TEXT NOT NULL UNIQUE,
    url TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    authors TEXT NOT NULL DEFAULT '',
    abstract TEXT NOT NULL DEFAULT '',
    full_text TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    points INTEGER NOT NULL DEFAULT 0,
    selected_character TEXT NOT NULL DEFAULT '',
    affinity_a INTEGER NOT NULL DEFAULT 0,
    affinity_b INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS default_summaries (
    id BIGSERIAL PRIMARY KEY,
    paper_id BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    llm_provider TEXT NOT NULL,
    llm_model TEXT NOT NULL,
    character TEXT NOT NULL DEFAULT '',
    affinity INTEGER NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    one_point TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (paper_id, llm_provider, llm_model, character, affinity)
);

CREATE TABLE IF NOT EXISTS custom_summaries (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    paper_id BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    prompt_id BIGINT NOT NULL,
    llm_provider TEXT NOT NULL,
    llm_model TEXT NOT NULL,
    character TEXT NOT NULL DEFAULT '',
    affinity INTEGER NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    one_point TEXT NOT NULL DEFAULT '',
    prompt_updated_at_snapshot TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, paper_id, prompt_id, llm_provider, llm_model, character, affinity)
);

CREATE TABLE IF NOT EXISTS edited_summaries (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    default_summary_id BIGINT REFERENCES default_summaries(id) ON DELETE CASCADE,
    custom_summary_id BIGINT REFERENCES custom_summaries(id) ON DELETE CASCADE,
    body TEXT NOT NULL,
    one_point TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, default_summary_id),
    UNIQUE (user_id, custom_summary_id)
);

CREATE TABLE IF NOT EXISTS user_paper_links (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    paper_id BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    tags TEXT NOT NULL DEFAULT '',
    memo TEXT NOT NULL DEFAULT '',
    selected_default_summary_id BIGINT REFERENCES default_summaries(id) ON DELETE SET NULL,
    selected_custom_summary_id BIGINT REFERENCES custom_summaries(id) ON DELETE SET NULL,
    last_accessed TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, paper_id),
    CHECK (selected_default_summary_id IS NULL OR selected_custom_summary_id IS NULL)
);
`)
	return err
}

func (r *pgRepository) table(custom bool) string {
	if custom {
		return "custom_summaries"
	}
	return "default_summaries"
}

func (r *pgRepository) whereKey(key SummaryKey, startArg int) (string, []any) {
	if key.IsCustom() {
		return "user_id=$1 AND paper_id=$2 AND prompt_id=$3 AND llm_provider=$4 AND llm_model=$5 AND character=$6 AND affinity=$7",
			[]any{key.UserID, key.PaperID, *key.PromptID, key.Provider, key.Model, string(key.Character), key.Affinity}
	}
	return "paper_id=$1 AND llm_provider=$2 AND llm_model=$3 AND character=$4 AND affinity=$5",
		[]any{key.PaperID, key.Provider, key.Model, string(key.Character), key.Affinity}
}

func (r *pgRepository) scanRow(row pgx.Row, key SummaryKey) (Row, error) {
	var out Row
	out.Key = key
	if err := row.Scan(&out.ID, &out.Body, &out.OnePoint, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return Row{}, err
	}
	return out, nil
}

func (r *pgRepository) GetRow(ctx context.Context, key SummaryKey) (Row, bool, error) {
	where, args := r.whereKey(key, 1)
	q := fmt.Sprintf(`SELECT id, body, one_point, created_at, updated_at FROM %s WHERE %s`, r.table(key.IsCustom()), where)
	row, err := r.scanRow(r.pool.QueryRow(ctx, q, args...), key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, false, nil
		}
		return Row{}, false, err
	}
	return row, true, nil
}

func (r *pgRepository) InsertProcessing(ctx context.Context, key SummaryKey, n int) (Row, bool, error) {
	body := ProcessingBody(n)
	var q string
	var args []any
	if key.IsCustom() {
		q = `INSERT INTO custom_summaries (user_id, paper_id, prompt_id, llm_provider, llm_model, character, affinity, body, one_point)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'')
ON CONFLICT (user_id, paper_id, prompt_id, llm_provider, llm_model, character, affinity) DO NOTHING
RETURNING id, body, one_point, created_at, updated_at`
		args = []any{key.UserID, key.PaperID, *key.PromptID, key.Provider, key.Model, string(key.Character), key.Affinity, body}
	} else {
		q = `INSERT INTO default_summaries (paper_id, llm_provider, llm_model, character, affinity, body, one_point)
VALUES ($1,$2,$3,$4,$5,$6,'')
ON CONFLICT (paper_id, llm_provider, llm_model, character, affinity) DO NOTHING
RETURNING id, body, one_point, created_at, updated_at`
		args = []any{key.PaperID, key.Provider, key.Model, string(key.Character), key.Affinity, body}
	}
	row, err := r.scanRow(r.pool.QueryRow(ctx, q, args...), key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, ok, gerr := r.GetRow(ctx, key)
			if gerr != nil {
				return Row{}, false, gerr
			}
			if !ok {
				// Vanishingly rare: conflicted row was deleted between the
				// INSERT and our follow-up SELECT. Treat as if we won.
				return r.InsertProcessing(ctx, key, n)
			}
			return existing, false, nil
		}
		return Row{}, false, err
	}
	return row, true, nil
}

func (r *pgRepository) BumpProcessing(ctx context.Context, key SummaryKey, expectN, newN int) (Row, bool, error) {
	where, args := r.whereKey(key, 1)
	expectBody := ProcessingBody(expectN)
	newBody := ProcessingBody(newN)
	q := fmt.Sprintf(`UPDATE %s SET body=$%d, updated_at=NOW() WHERE %s AND body=$%d RETURNING id, body, one_point, created_at, updated_at`,
		r.table(key.IsCustom()), len(args)+1, where, len(args)+2)
	args = append(args, newBody, expectBody)
	row, err := r.scanRow(r.pool.QueryRow(ctx, q, args...), key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, false, nil
		}
		return Row{}, false, err
	}
	return row, true, nil
}

func (r *pgRepository) CompleteRow(ctx context.Context, key SummaryKey, expectN int, body, onePoint string) (Row, bool, error) {
	where, args := r.whereKey(key, 1)
	expectBody := ProcessingBody(expectN)
	q := fmt.Sprintf(`UPDATE %s SET body=$%d, one_point=$%d, updated_at=NOW() WHERE %s AND body=$%d RETURNING id, body, one_point, created_at, updated_at`,
		r.table(key.IsCustom()), len(args)+1, len(args)+2, where, len(args)+3)
	args = append(args, body, onePoint, expectBody)
	row, err := r.scanRow(r.pool.QueryRow(ctx, q, args...), key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, false, nil
		}
		return Row{}, false, err
	}
	return row, true, nil
}

func (r *pgRepository) DeleteRow(ctx context.Context, key SummaryKey, expectN int) error {
	where, args := r.whereKey(key, 1)
	expectBody := ProcessingBody(expectN)
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s AND body=$%d`, r.table(key.IsCustom()), where, len(args)+1)
	args = append(args, expectBody)
	_, err := r.pool.Exec(ctx, q, args...)
	return err
}

func (r *pgRepository) BeginRegeneration(ctx context.Context, key SummaryKey, n int) (Row, bool, error) {
	where, args := r.whereKey(key, 1)
	newBody := ProcessingBody(n)
	q := fmt.Sprintf(`UPDATE %s SET body=$%d, updated_at=NOW() WHERE %s AND body NOT LIKE '%s%%' RETURNING id, body, one_point, created_at, updated_at`,
		r.table(key.IsCustom()), len(args)+1, where, processingPrefix)
	args = append(args, newBody)
	row, err := r.scanRow(r.pool.QueryRow(ctx, q, args...), key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, _, gerr := r.GetRow(ctx, key)
			if gerr != nil {
				return Row{}, false, gerr
			}
			return existing, false, nil
		}
		return Row{}, false, err
	}
	return row, true, nil
}

func (r *pgRepository) AllForUserPaper(ctx context.Context, userID, paperID int64) ([]Row, error) {
	var out []Row
	defRows, err := r.pool.Query(ctx, `SELECT id, llm_provider, llm_model, character, affinity, body, one_point, created_at, updated_at FROM default_summaries WHERE paper_id=$1`, paperID)
	if err != nil {
		return nil, fmt.Errorf("query default summaries: %w", err)
	}
	for defRows.Next() {
		var row Row
		var character string
		if err := defRows.Scan(&row.ID, &row.Key.Provider, &row.Key.Model, &character, &row.Key.Affinity, &row.Body, &row.OnePoint, &row.CreatedAt, &row.UpdatedAt); err != nil {
			defRows.Close()
			return nil, err
		}
		row.Key.PaperID = paperID
		row.Key.Character = Character(character)
		out = append(out, row)
	}
	defRows.Close()
	if err := defRows.Err(); err != nil {
		return nil, err
	}

	custRows, err := r.pool.Query(ctx, `SELECT id, prompt_id, llm_provider, llm_model, character, affinity, body, one_point, created_at, updated_at FROM custom_summaries WHERE user_id=$1 AND paper_id=$2`, userID, paperID)
	if err != nil {
		return nil, fmt.Errorf("query custom summaries: %w", err)
	}
	defer custRows.Close()
	for custRows.Next() {
		var row Row
		var character string
		var promptID int64
		if err := custRows.Scan(&row.ID, &promptID, &row.Key.Provider, &row.Key.Model, &character, &row.Key.Affinity, &row.Body, &row.OnePoint, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Key.UserID = userID
		row.Key.PaperID = paperID
		row.Key.PromptID = &promptID
		row.Key.Character = Character(character)
		out = append(out, row)
	}
	return out, custRows.Err()
}
