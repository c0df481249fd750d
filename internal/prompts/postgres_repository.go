package prompts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// InitSchema creates the prompts and prompt_groups tables, grounded on the
// same CREATE TABLE IF NOT EXISTS convention as papers.InitSchema.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS prompts (
    id BIGSERIAL PRIMARY KEY,
    type TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    owner_user_id BIGINT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS prompts_global_default_per_type
    ON prompts (type) WHERE owner_user_id IS NULL;

CREATE TABLE IF NOT EXISTS prompt_groups (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    user_id BIGINT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    coordinator_prompt_id BIGINT REFERENCES prompts(id) ON DELETE SET NULL,
    planner_prompt_id BIGINT REFERENCES prompts(id) ON DELETE SET NULL,
    supervisor_prompt_id BIGINT REFERENCES prompts(id) ON DELETE SET NULL,
    agent_prompt_id BIGINT REFERENCES prompts(id) ON DELETE SET NULL,
    summary_prompt_id BIGINT REFERENCES prompts(id) ON DELETE SET NULL,
    UNIQUE (name, user_id, category)
);
`)
	return err
}

const promptCols = "id, type, name, category, body, owner_user_id, is_active, created_at, updated_at"

func scanPrompt(row pgx.Row) (Prompt, error) {
	var p Prompt
	var t string
	if err := row.Scan(&p.ID, &t, &p.Name, &p.Category, &p.Body, &p.OwnerUserID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Prompt{}, err
	}
	p.Type = Type(t)
	return p, nil
}

func (r *pgRepository) GetByID(ctx context.Context, id int64) (Prompt, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+promptCols+` FROM prompts WHERE id=$1`, id)
	p, err := scanPrompt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Prompt{}, false, nil
	}
	return p, err == nil, err
}

func (r *pgRepository) GetDefaultForType(ctx context.Context, t Type) (Prompt, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+promptCols+` FROM prompts WHERE type=$1 AND owner_user_id IS NULL AND is_active`, string(t))
	p, err := scanPrompt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Prompt{}, false, nil
	}
	return p, err == nil, err
}

func (r *pgRepository) GetGroup(ctx context.Context, name string, userID int64, category string) (PromptGroup, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, user_id, category, coordinator_prompt_id, planner_prompt_id, supervisor_prompt_id, agent_prompt_id, summary_prompt_id
FROM prompt_groups WHERE name=$1 AND user_id=$2 AND category=$3`, name, userID, category)
	var g PromptGroup
	if err := row.Scan(&g.ID, &g.Name, &g.UserID, &g.Category, &g.CoordinatorPromptID, &g.PlannerPromptID, &g.SupervisorPromptID, &g.AgentPromptID, &g.SummaryPromptID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PromptGroup{}, false, nil
		}
		return PromptGroup{}, false, err
	}
	return g, true, nil
}

func (r *pgRepository) CreatePrompt(ctx context.Context, p Prompt) (Prompt, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO prompts (type, name, category, body, owner_user_id, is_active)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+promptCols,
		string(p.Type), p.Name, p.Category, p.Body, p.OwnerUserID, p.IsActive)
	return scanPrompt(row)
}

func (r *pgRepository) UpdatePrompt(ctx context.Context, p Prompt) (Prompt, error) {
	row := r.pool.QueryRow(ctx, `UPDATE prompts SET name=$1, category=$2, body=$3, is_active=$4, updated_at=NOW() WHERE id=$5 RETURNING `+promptCols,
		p.Name, p.Category, p.Body, p.IsActive, p.ID)
	return scanPrompt(row)
}

func (r *pgRepository) ListForUser(ctx context.Context, userID int64, t Type) ([]Prompt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+promptCols+` FROM prompts WHERE type=$1 AND (owner_user_id=$2 OR owner_user_id IS NULL) ORDER BY owner_user_id NULLS LAST`, string(t), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
