package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

const commentColumns = `
	c.id, c.issue_id, c.body, COALESCE(c.author_id, ''), COALESCE(u.name, ''), COALESCE(c.parent_id, ''),
	c.reactions, c.attachments, c.mentions, c.created_at, c.updated_at
`

const commentFrom = `FROM comments c LEFT JOIN users u ON u.id = c.author_id`

func scanComment(row interface{ Scan(...any) error }) (model.Comment, error) {
	var (
		c                             model.Comment
		issue, author, parent         string
		reactions, attachments, users []byte
	)
	if err := row.Scan(&c.ID, &issue, &c.Body, &author, &c.AuthorName, &parent,
		&reactions, &attachments, &users, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return model.Comment{}, err
	}
	c.Issue = model.Ref(issue)
	c.Author = model.Ref(author)
	c.Parent = model.Ref(parent)
	c.Reactions = decodeReactions(reactions)
	c.Attachments = decodeList(attachments)
	c.Mentions = decodeRefs(users)
	return c, nil
}

// ListComments returns the flat comment list of a ticket, oldest first.
func (s *PostgresStore) ListComments(ctx context.Context, issueID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` `+commentFrom+`
		WHERE c.issue_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (model.Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` `+commentFrom+` WHERE c.id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, err
		}
		return model.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	if c.ID == "" {
		c.ID = util.NewID("cmt")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, issue_id, body, author_id, parent_id, reactions, attachments, mentions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Issue.String(), c.Body, nullRef(c.Author), nullRef(c.Parent),
		jsonReactions(c.Reactions), jsonList(c.Attachments), jsonList(c.Mentions.Strings())); err != nil {
		if isForeignKeyViolation(err) {
			return model.Comment{}, fmt.Errorf("%w: comment references an unknown record", ErrConflict)
		}
		return model.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return s.GetComment(ctx, c.ID)
}

func (s *PostgresStore) UpdateCommentBody(ctx context.Context, id, body string, mentions model.Refs) (model.Comment, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET body=$2, mentions=$3, updated_at=NOW() WHERE id=$1
	`, id, body, jsonList(mentions.Strings()))
	if err != nil {
		return model.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return model.Comment{}, fmt.Errorf("update comment rows: %w", err)
	} else if affected == 0 {
		return model.Comment{}, sql.ErrNoRows
	}
	return s.GetComment(ctx, id)
}

// UpdateCommentReactions rewrites the reaction list of a comment under a
// row lock so concurrent toggles do not lose each other.
func (s *PostgresStore) UpdateCommentReactions(ctx context.Context, id string, fn func([]model.Reaction) []model.Reaction) (model.Comment, error) {
	err := s.withTx(ctx, "update reactions", func(tx *sql.Tx) error {
		var raw []byte
		if err := tx.QueryRowContext(ctx, `SELECT reactions FROM comments WHERE id=$1 FOR UPDATE`, id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("lock comment: %w", err)
		}
		next := fn(decodeReactions(raw))
		if _, err := tx.ExecContext(ctx, `UPDATE comments SET reactions=$2, updated_at=NOW() WHERE id=$1`, id, jsonReactions(next)); err != nil {
			return fmt.Errorf("write reactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Comment{}, err
	}
	return s.GetComment(ctx, id)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func jsonReactions(reactions []model.Reaction) []byte {
	if reactions == nil {
		reactions = []model.Reaction{}
	}
	data, _ := json.Marshal(reactions)
	return data
}

func decodeReactions(data []byte) []model.Reaction {
	out := []model.Reaction{}
	if len(data) == 0 {
		return out
	}
	_ = json.Unmarshal(data, &out)
	if out == nil {
		out = []model.Reaction{}
	}
	return out
}
