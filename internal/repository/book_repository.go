package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/model"
)

const bookColumns = `book_id, name, description, owner_id, expiration_date,
	allow_multi_redemption, max_redemptions_per_user, max_assignments_per_user,
	code_pattern, total_code_count, is_active, created_at`

// BookRepository handles book data operations
type BookRepository struct{}

// NewBookRepository creates a new book repository
func NewBookRepository() *BookRepository {
	return &BookRepository{}
}

// CreateBook inserts a new book
func (r *BookRepository) CreateBook(ctx context.Context, db DBExecutor, book *model.Book) error {
	query := `
		INSERT INTO books (` + bookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := db.ExecContext(ctx, query,
		book.ID, book.Name, book.Description, book.OwnerID, book.ExpiresAt,
		book.AllowMultiRedemption, book.MaxRedemptionsPerUser, book.MaxAssignmentsPerUser,
		book.CodePattern, book.TotalCodeCount, book.IsActive, book.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.Conflict, "book %q already exists", book.ID)
		}
		return fmt.Errorf("failed to create book: %w", err)
	}

	return nil
}

// GetBook retrieves a book by ID
func (r *BookRepository) GetBook(ctx context.Context, db DBExecutor, bookID string) (*model.Book, error) {
	return r.getBook(ctx, db, bookID, "")
}

// GetBookForUpdate retrieves a book and locks its row
func (r *BookRepository) GetBookForUpdate(ctx context.Context, db DBExecutor, bookID string) (*model.Book, error) {
	return r.getBook(ctx, db, bookID, "FOR UPDATE")
}

func (r *BookRepository) getBook(ctx context.Context, db DBExecutor, bookID, lock string) (*model.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE book_id = $1 ` + lock

	var book model.Book
	err := db.GetContext(ctx, &book, query, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "book %q not found", bookID)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	return &book, nil
}

// ListBooks lists books matching filter, newest first
func (r *BookRepository) ListBooks(ctx context.Context, db DBExecutor, filter BookFilter) ([]model.Book, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, book_id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	books := []model.Book{}
	if err := db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// AddBookCodeCount adjusts the aggregate code counter of a book
func (r *BookRepository) AddBookCodeCount(ctx context.Context, db DBExecutor, bookID string, delta int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE books SET total_code_count = total_code_count + $1 WHERE book_id = $2`, delta, bookID)
	if err != nil {
		return fmt.Errorf("failed to update book code count: %w", err)
	}
	return expectRow(result, apperr.New(apperr.NotFound, "book %q not found", bookID))
}
