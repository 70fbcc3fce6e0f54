package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"postboard/internal/domain"
	"postboard/internal/repository"
	"postboard/internal/search"
)

const createPostsTable = `
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NULL,
	content TEXT NULL,
	user_id INTEGER NOT NULL REFERENCES users(id),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS index_posts_on_user_id ON posts(user_id);
`

const postColumns = `p.id, p.title, p.content, p.user_id, p.created_at, p.updated_at`

// PostSearch is the allow-list of attributes usable in post filters.
var PostSearch = search.NewSchema(map[string]search.Field{
	"id":         {Kind: search.Integer, Expr: "p.id"},
	"title":      {Kind: search.Text, Expr: "p.title"},
	"content":    {Kind: search.Text, Expr: "p.content"},
	"user_id":    {Kind: search.Integer, Expr: "p.user_id"},
	"created_at": {Kind: search.Timestamp, Expr: "p.created_at"},
	"updated_at": {Kind: search.Timestamp, Expr: "p.updated_at"},
	"user_name":  {Kind: search.Text, Expr: "u.name"},
	"user_email": {Kind: search.Text, Expr: "u.email"},
})

type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) repository.PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createPostsTable); err != nil {
		return fmt.Errorf("create posts table: %w", err)
	}
	return nil
}

// List returns one page of posts matching the filter, newest first, along
// with the total number of matching posts.
func (r *PostRepository) List(ctx context.Context, filter search.Filter, page repository.Page) ([]domain.Post, int, error) {
	from := `
FROM posts p
LEFT JOIN users u ON u.id = p.user_id`
	where, args := PostSearch.Where(filter)
	if where != "" {
		from += "\nWHERE " + where
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(DISTINCT p.id)`+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	query := `SELECT DISTINCT ` + postColumns + from + `
ORDER BY p.id DESC
LIMIT ? OFFSET ?`
	rows, err := tx.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := []domain.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, total, nil
}

func (r *PostRepository) Get(ctx context.Context, id int64) (*domain.Post, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+postColumns+`
FROM posts p
WHERE p.id = ?`,
		id,
	)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("post %d: %w", id, repository.ErrNotFound)
		}
		return nil, err
	}
	return post, nil
}

func (r *PostRepository) Create(ctx context.Context, post *domain.Post) (int64, error) {
	now := time.Now().UTC()
	post.CreatedAt = now
	post.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO posts (title, content, user_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`,
		nullString(post.Title),
		nullString(post.Content),
		post.UserID,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("post owner %d: %w", post.UserID, repository.ErrConflict)
		}
		return 0, fmt.Errorf("insert post: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("post last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit post insert: %w", err)
	}
	post.ID = id
	return id, nil
}

// Update loads the post, lets mutate change it and writes it back, all in
// one transaction. An error from mutate aborts the update.
func (r *PostRepository) Update(ctx context.Context, id int64, mutate func(*domain.Post) error) (*domain.Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	post, err := scanPost(tx.QueryRowContext(ctx, `
SELECT `+postColumns+`
FROM posts p
WHERE p.id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("post %d: %w", id, repository.ErrNotFound)
		}
		return nil, err
	}

	if err := mutate(post); err != nil {
		return nil, err
	}
	post.ID = id
	post.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
UPDATE posts
SET title=?, content=?, updated_at=?
WHERE id=?`,
		nullString(post.Title),
		nullString(post.Content),
		post.UpdatedAt,
		id,
	); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit post update: %w", err)
	}
	return post, nil
}

func (r *PostRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id=?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("post %d has dependent records: %w", id, repository.ErrConflict)
		}
		return fmt.Errorf("delete post: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("post delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("post %d: %w", id, repository.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit post delete: %w", err)
	}
	return nil
}

func scanPost(scanner interface {
	Scan(dest ...any) error
}) (*domain.Post, error) {
	var (
		post    domain.Post
		title   sql.NullString
		content sql.NullString
	)
	if err := scanner.Scan(
		&post.ID,
		&title,
		&content,
		&post.UserID,
		&post.CreatedAt,
		&post.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan post: %w", err)
	}
	post.Title = stringPtr(title)
	post.Content = stringPtr(content)
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()
	return &post, nil
}
