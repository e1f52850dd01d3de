package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS problems (
	id              BIGINT PRIMARY KEY,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	input_example   TEXT,
	output_example  TEXT,
	time_limit_ms   BIGINT,
	memory_limit_mb BIGINT
);

CREATE TABLE IF NOT EXISTS submissions (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL,
	problem_id   BIGINT NOT NULL,
	code         TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS submissions_status_updated_idx ON submissions (status, updated_at);
CREATE INDEX IF NOT EXISTS submissions_user_idx ON submissions (user_id);
CREATE INDEX IF NOT EXISTS submissions_problem_idx ON submissions (problem_id);
`

const (
	insertSubmissionSQL = `
		INSERT INTO submissions (user_id, problem_id, code, status, reason, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	submissionColumns = `id, user_id, problem_id, code, status, reason, submitted_at, updated_at`

	selectSubmissionSQL = `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	// Compare-and-set: applies only while the row still holds the expected status.
	updateStatusSQL = `
		UPDATE submissions
		SET status = $3, reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	selectProblemSQL = `
		SELECT id, title, description, input_example, output_example, time_limit_ms, memory_limit_mb
		FROM problems
		WHERE id = $1`

	upsertProblemSQL = `
		INSERT INTO problems (id, title, description, input_example, output_example, time_limit_ms, memory_limit_mb)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			input_example = EXCLUDED.input_example,
			output_example = EXCLUDED.output_example,
			time_limit_ms = EXCLUDED.time_limit_ms,
			memory_limit_mb = EXCLUDED.memory_limit_mb`
)

func (db *Database) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	err := db.Pool.QueryRow(ctx, insertSubmissionSQL,
		sub.UserID, sub.ProblemID, sub.Code, string(sub.Status), sub.Reason, sub.SubmittedAt, sub.UpdatedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func (db *Database) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	sub, err := scanSubmission(db.Pool.QueryRow(ctx, selectSubmissionSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission %d: %w", id, err)
	}
	return sub, nil
}

func (db *Database) UpdateStatus(ctx context.Context, id int64, from, to model.Status, reason string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, updateStatusSQL, id, string(from), string(to), reason)
	if err != nil {
		return false, fmt.Errorf("failed to update submission %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (db *Database) ListSubmissions(ctx context.Context, f model.SubmissionFilter) ([]*model.Submission, error) {
	query, args := buildListQuery(f)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return out, nil
}

func buildListQuery(f model.SubmissionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID > 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.ProblemID > 0 {
		add("problem_id = $%d", f.ProblemID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.UpdatedBefore.IsZero() {
		add("updated_at < $%d", f.UpdatedBefore)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + submissionColumns + " FROM submissions")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var (
		sub    model.Submission
		status string
	)
	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ProblemID, &sub.Code, &status, &sub.Reason, &sub.SubmittedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = model.Status(status)
	return &sub, nil
}

func (db *Database) GetProblem(ctx context.Context, id int64) (*model.Problem, error) {
	var p model.Problem
	err := db.Pool.QueryRow(ctx, selectProblemSQL, id).Scan(
		&p.ID, &p.Title, &p.Description, &p.InputExample, &p.OutputExample, &p.TimeLimitMs, &p.MemoryLimitMb,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load problem %d: %w", id, err)
	}
	return &p, nil
}

func (db *Database) UpsertProblem(ctx context.Context, p *model.Problem) error {
	if _, err := db.Pool.Exec(ctx, upsertProblemSQL,
		p.ID, p.Title, p.Description, p.InputExample, p.OutputExample, p.TimeLimitMs, p.MemoryLimitMb,
	); err != nil {
		return fmt.Errorf("failed to upsert problem %d: %w", p.ID, err)
	}
	return nil
}
