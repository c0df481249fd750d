package papers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresLinkStore returns a LinkStore backed by Postgres.
func NewPostgresLinkStore(pool *pgxpool.Pool) LinkStore {
	return &pgLinkStore{pool: pool}
}

type pgLinkStore struct {
	pool *pgxpool.Pool
}

func (s *pgLinkStore) EnsurePaper(ctx context.Context, externalID, url, title, authors, abstract string) (PaperMetadata, error) {
	row := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO papers (external_id, url, title, authors, abstract)
  VALUES ($1,$2,$3,$4,$5)
  ON CONFLICT (external_id) DO NOTHING
  RETURNING id, external_id, url, title, authors, abstract, full_text, created_at, updated_at
)
SELECT id, external_id, url, title, authors, abstract, full_text, created_at, updated_at FROM ins
UNION ALL
SELECT id, external_id, url, title, authors, abstract, full_text, created_at, updated_at FROM papers WHERE external_id=$1
LIMIT 1`, externalID, url, title, authors, abstract)
	return scanPaper(row)
}

func (s *pgLinkStore) SetFullText(ctx context.Context, paperID int64, fullText string) error {
	_, err := s.pool.Exec(ctx, `UPDATE papers SET full_text=$1, updated_at=NOW() WHERE id=$2`, fullText, paperID)
	return err
}

func scanPaper(row pgx.Row) (PaperMetadata, error) {
	var p PaperMetadata
	if err := row.Scan(&p.ID, &p.ExternalID, &p.URL, &p.Title, &p.Authors, &p.Abstract, &p.FullText, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return PaperMetadata{}, err
	}
	return p, nil
}

func (s *pgLinkStore) GetPaper(ctx context.Context, paperID int64) (PaperMetadata, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, external_id, url, title, authors, abstract, full_text, created_at, updated_at FROM papers WHERE id=$1`, paperID)
	p, err := scanPaper(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaperMetadata{}, false, nil
	}
	return p, err == nil, err
}

func (s *pgLinkStore) GetPaperByExternalID(ctx context.Context, externalID string) (PaperMetadata, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, external_id, url, title, authors, abstract, full_text, created_at, updated_at FROM papers WHERE external_id=$1`, externalID)
	p, err := scanPaper(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaperMetadata{}, false, nil
	}
	return p, err == nil, err
}

func (s *pgLinkStore) GetUser(ctx context.Context, userID int64) (User, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, display_name, points, selected_character, affinity_a, affinity_b FROM users WHERE id=$1`, userID)
	var u User
	var character string
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Points, &character, &u.AffinityA, &u.AffinityB); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	u.SelectedCharacter = Character(character)
	return u, true, nil
}

func scanLink(row pgx.Row) (UserPaperLink, error) {
	var l UserPaperLink
	var tags string
	if err := row.Scan(&l.ID, &l.UserID, &l.PaperID, &tags, &l.Memo, &l.SelectedDefaultSummaryID, &l.SelectedCustomSummaryID, &l.LastAccessed, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return UserPaperLink{}, err
	}
	l.Tags = splitTags(tags)
	return l, nil
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinTags(tags []string) string { return strings.Join(tags, ",") }

const linkCols = "id, user_id, paper_id, tags, memo, selected_default_summary_id, selected_custom_summary_id, last_accessed, created_at, updated_at"

func (s *pgLinkStore) EnsureLink(ctx context.Context, userID, paperID int64) (UserPaperLink, error) {
	row := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO user_paper_links (user_id, paper_id) VALUES ($1,$2)
  ON CONFLICT (user_id, paper_id) DO NOTHING
  RETURNING `+linkCols+`
)
SELECT `+linkCols+` FROM ins
UNION ALL
SELECT `+linkCols+` FROM user_paper_links WHERE user_id=$1 AND paper_id=$2
LIMIT 1`, userID, paperID)
	return scanLink(row)
}

func (s *pgLinkStore) GetLink(ctx context.Context, userID, paperID int64) (UserPaperLink, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+linkCols+` FROM user_paper_links WHERE user_id=$1 AND paper_id=$2`, userID, paperID)
	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserPaperLink{}, false, nil
	}
	return l, err == nil, err
}

func (s *pgLinkStore) GetLinkByID(ctx context.Context, linkID int64) (UserPaperLink, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+linkCols+` FROM user_paper_links WHERE id=$1`, linkID)
	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserPaperLink{}, false, nil
	}
	return l, err == nil, err
}

func (s *pgLinkStore) SetSelection(ctx context.Context, linkID int64, defaultID, customID *int64) error {
	if defaultID != nil && customID != nil {
		return fmt.Errorf("papers: selection must set at most one of default/custom summary id")
	}
	_, err := s.pool.Exec(ctx, `UPDATE user_paper_links SET selected_default_summary_id=$1, selected_custom_summary_id=$2, updated_at=NOW() WHERE id=$3`, defaultID, customID, linkID)
	return err
}

func (s *pgLinkStore) SetTags(ctx context.Context, linkID int64, tags []string) error {
	_, err := s.pool.Exec(ctx, `UPDATE user_paper_links SET tags=$1, updated_at=NOW() WHERE id=$2`, joinTags(tags), linkID)
	return err
}

func (s *pgLinkStore) TouchAccessed(ctx context.Context, linkID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE user_paper_links SET last_accessed=NOW() WHERE id=$1`, linkID)
	return err
}

func (s *pgLinkStore) DeleteLink(ctx context.Context, userID, paperID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM edited_summaries WHERE user_id=$1 AND default_summary_id IN (SELECT id FROM default_summaries WHERE paper_id=$2)`, userID, paperID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM edited_summaries WHERE user_id=$1 AND custom_summary_id IN (SELECT id FROM custom_summaries WHERE user_id=$1 AND paper_id=$2)`, userID, paperID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM custom_summaries WHERE user_id=$1 AND paper_id=$2`, userID, paperID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM paper_chat_messages WHERE session_id IN (SELECT id FROM paper_chat_sessions WHERE user_id=$1 AND paper_id=$2)`, userID, paperID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM paper_chat_sessions WHERE user_id=$1 AND paper_id=$2`, userID, paperID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_paper_links WHERE user_id=$1 AND paper_id=$2`, userID, paperID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgLinkStore) LinksWithTag(ctx context.Context, userID int64, tag string, limit int) ([]UserPaperLink, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `SELECT `+linkCols+` FROM user_paper_links WHERE user_id=$1 AND (',' || tags || ',') LIKE '%,' || $2 || ',%' ORDER BY created_at DESC LIMIT $3`, userID, tag, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserPaperLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *pgLinkStore) CandidateLinks(ctx context.Context, userID int64, excludeTags []string) ([]UserPaperLink, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+linkCols+` FROM user_paper_links WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserPaperLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		excluded := false
		for _, t := range excludeTags {
			if l.HasTag(t) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, l)
		}
	}
	return out, rows.Err()
}

func (s *pgLinkStore) UpsertEditedSummary(ctx context.Context, userID int64, defaultID, customID *int64, body, onePoint string) (EditedSummary, error) {
	var row pgx.Row
	if defaultID != nil {
		row = s.pool.QueryRow(ctx, `
INSERT INTO edited_summaries (user_id, default_summary_id, body, one_point)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, default_summary_id) DO UPDATE SET body=EXCLUDED.body, one_point=EXCLUDED.one_point, updated_at=NOW()
RETURNING id, user_id, default_summary_id, custom_summary_id, body, one_point, created_at, updated_at`, userID, *defaultID, body, onePoint)
	} else if customID != nil {
		row = s.pool.QueryRow(ctx, `
INSERT INTO edited_summaries (user_id, custom_summary_id, body, one_point)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, custom_summary_id) DO UPDATE SET body=EXCLUDED.body, one_point=EXCLUDED.one_point, updated_at=NOW()
RETURNING id, user_id, default_summary_id, custom_summary_id, body, one_point, created_at, updated_at`, userID, *customID, body, onePoint)
	} else {
		return EditedSummary{}, fmt.Errorf("papers: edited summary needs exactly one of default/custom id")
	}
	var e EditedSummary
	if err := row.Scan(&e.ID, &e.UserID, &e.DefaultSummaryID, &e.CustomSummaryID, &e.Body, &e.OnePoint, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return EditedSummary{}, err
	}
	return e, nil
}
