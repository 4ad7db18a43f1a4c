package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/post"
)

// PostStore implements storage for posts.
type PostStore struct {
	db *pgxpool.Pool
}

// NewPostStore creates a new post store.
func NewPostStore(db *pgxpool.Pool) *PostStore {
	return &PostStore{
		db: db,
	}
}

// CreatePost inserts a post. The id and createdAt are store-assigned;
// callers supply exactly the author, body and optional location.
func (s *PostStore) CreatePost(ctx context.Context, authorID, body string, loc *geo.Coordinate) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("post body must not be empty")
	}

	var locJSON []byte
	if loc != nil {
		var err error
		locJSON, err = json.Marshal(loc)
		if err != nil {
			return "", fmt.Errorf("error marshaling location: %w", err)
		}
	}

	id := uuid.New().String()
	query := `
		INSERT INTO posts (id, author_id, body, location, created_at)
		VALUES ($1, $2, $3, $4, now())
	`

	if _, err := s.db.Exec(ctx, query, id, authorID, body, locJSON); err != nil {
		return "", fmt.Errorf("error executing query: %w", err)
	}

	return id, nil
}

// ListDocuments returns raw post documents in the given scope, newest
// first. Location stays raw JSON; validation happens at the aggregation
// boundary.
func (s *PostStore) ListDocuments(ctx context.Context, scope post.Scope) ([]post.Document, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id, author_id, body, location, created_at
		FROM posts
	`)

	args := []interface{}{}
	if scope.AuthorID != "" {
		queryBuilder.WriteString(" WHERE author_id = $1")
		args = append(args, scope.AuthorID)
	}
	queryBuilder.WriteString(" ORDER BY created_at DESC")

	rows, err := s.db.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var docs []post.Document
	for rows.Next() {
		var doc post.Document
		var loc []byte
		var createdAt *time.Time

		if err := rows.Scan(&doc.ID, &doc.AuthorID, &doc.Body, &loc, &createdAt); err != nil {
			return nil, fmt.Errorf("error scanning post: %w", err)
		}

		doc.Location = json.RawMessage(loc)
		doc.CreatedAt = createdAt
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

	return docs, nil
}
