package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// ===== Error model (same shape as members/lending) =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}

// ===== Service =====

type Service struct {
	store CatalogStore
}

func NewService(db *sql.DB) *Service {
	return &Service{store: NewStore(db)}
}

// ===== authors =====

func (s *Service) CreateAuthor(ctx context.Context, in CreateAuthorRequest) (AuthorResponse, error) {
	if strings.TrimSpace(in.Name) == "" {
		return AuthorResponse{}, ErrInvalid("name is required")
	}

	a := &Author{Name: strings.TrimSpace(in.Name)}
	if in.Nationality != nil && *in.Nationality != "" {
		a.Nationality = sql.NullString{String: *in.Nationality, Valid: true}
	}
	if err := s.store.InsertAuthor(ctx, a); err != nil {
		return AuthorResponse{}, err
	}
	return authorToDTO(a), nil
}

func (s *Service) GetAuthor(ctx context.Context, id int64) (AuthorResponse, error) {
	a, err := s.store.GetAuthorByID(ctx, id)
	if err != nil {
		return AuthorResponse{}, err
	}
	if a == nil {
		return AuthorResponse{}, ErrNotFound("author not found")
	}
	return authorToDTO(a), nil
}

func (s *Service) ListAuthors(ctx context.Context, limit, offset int) ([]AuthorResponse, error) {
	authors, err := s.store.ListAuthors(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	res := make([]AuthorResponse, 0, len(authors))
	for i := range authors {
		res = append(res, authorToDTO(&authors[i]))
	}
	return res, nil
}

// ===== books =====

func (s *Service) CreateBook(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	if strings.TrimSpace(in.Title) == "" || in.AuthorID <= 0 {
		return BookResponse{}, ErrInvalid("title and author_id are required")
	}

	b := &Book{Title: strings.TrimSpace(in.Title), AuthorID: in.AuthorID}
	if in.ISBN != nil && *in.ISBN != "" {
		b.ISBN = sql.NullString{String: *in.ISBN, Valid: true}
	}
	if err := s.store.InsertBook(ctx, b); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1452 { // foreign key constraint fails
			return BookResponse{}, ErrInvalid("invalid author_id")
		}
		return BookResponse{}, err
	}

	out, err := s.store.GetBookByID(ctx, b.BookID)
	if err != nil {
		return BookResponse{}, err
	}
	return bookToDTO(out), nil
}

func (s *Service) GetBook(ctx context.Context, id int64) (BookResponse, error) {
	b, err := s.store.GetBookByID(ctx, id)
	if err != nil {
		return BookResponse{}, err
	}
	if b == nil {
		return BookResponse{}, ErrNotFound("book not found")
	}
	return bookToDTO(b), nil
}

func (s *Service) ListBooks(ctx context.Context, includeArchived bool, limit, offset int) ([]BookResponse, error) {
	books, err := s.store.ListBooks(ctx, includeArchived, limit, offset)
	if err != nil {
		return nil, err
	}
	res := make([]BookResponse, 0, len(books))
	for i := range books {
		res = append(res, bookToDTO(&books[i]))
	}
	return res, nil
}

// SetBookArchived flips the archived flag. Archived books keep their copies
// and loan history; they just stop being checked out.
func (s *Service) SetBookArchived(ctx context.Context, id int64, archived bool) (BookResponse, error) {
	affected, err := s.store.SetBookArchived(ctx, id, archived)
	if err != nil {
		return BookResponse{}, err
	}

	b, err := s.store.GetBookByID(ctx, id)
	if err != nil {
		return BookResponse{}, err
	}
	if b == nil {
		return BookResponse{}, ErrNotFound("book not found")
	}
	if affected == 0 && b.IsArchived != archived {
		return BookResponse{}, ErrConflict("book archive state changed concurrently")
	}
	return bookToDTO(b), nil
}

// ===== copies =====

func (s *Service) CreateCopy(ctx context.Context, in CreateCopyRequest) (CopyResponse, error) {
	if in.BookID <= 0 {
		return CopyResponse{}, ErrInvalid("book_id is required")
	}

	barcode := ""
	if in.Barcode != nil {
		barcode = strings.TrimSpace(*in.Barcode)
	}
	if barcode == "" {
		barcode = uuid.NewString()
	}

	c := &BookCopy{BookID: in.BookID, Barcode: barcode}
	if err := s.store.InsertCopy(ctx, c); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) {
			switch me.Number {
			case 1062: // duplicate key
				return CopyResponse{}, ErrConflict("barcode already exists")
			case 1452: // foreign key constraint fails
				return CopyResponse{}, ErrInvalid("invalid book_id")
			}
		}
		return CopyResponse{}, err
	}

	out, err := s.store.GetCopyByID(ctx, c.CopyID)
	if err != nil {
		return CopyResponse{}, err
	}
	return copyToDTO(out), nil
}

func (s *Service) GetCopyByBarcode(ctx context.Context, barcode string) (CopyResponse, error) {
	c, err := s.store.GetCopyByBarcode(ctx, barcode)
	if err != nil {
		return CopyResponse{}, err
	}
	if c == nil {
		return CopyResponse{}, ErrNotFound("book copy not found")
	}
	return copyToDTO(c), nil
}

func (s *Service) ListCopies(ctx context.Context, bookID int64, status string, limit, offset int) ([]CopyResponse, error) {
	if status != "" && !CopyStatus(status).Valid() {
		return nil, ErrInvalid("unknown status")
	}
	copies, err := s.store.ListCopies(ctx, bookID, CopyStatus(status), limit, offset)
	if err != nil {
		return nil, err
	}
	res := make([]CopyResponse, 0, len(copies))
	for i := range copies {
		res = append(res, copyToDTO(&copies[i]))
	}
	return res, nil
}

// SetCopyStatus handles the librarian status override (available, maintenance,
// lost). A borrowed copy is rejected: it has to go through a return or the
// lost-while-borrowed transition so its open loan gets closed.
func (s *Service) SetCopyStatus(ctx context.Context, barcode string, in SetCopyStatusRequest) (CopyResponse, error) {
	next := CopyStatus(in.Status)
	if !next.Valid() || next == StatusBorrowed {
		return CopyResponse{}, ErrInvalid("status must be one of available, maintenance, lost")
	}

	c, err := s.store.GetCopyByBarcode(ctx, barcode)
	if err != nil {
		return CopyResponse{}, err
	}
	if c == nil {
		return CopyResponse{}, ErrNotFound("book copy not found")
	}
	if !CanSetStatus(c.Status, next) {
		if c.Status == StatusBorrowed {
			return CopyResponse{}, ErrConflict("copy is borrowed; process a return or report it lost")
		}
		return CopyResponse{}, ErrConflict(fmt.Sprintf("copy is already %s", c.Status))
	}

	affected, err := s.store.SetCopyStatus(ctx, c.CopyID, next)
	if err != nil {
		return CopyResponse{}, err
	}
	if affected == 0 {
		// Lost the race against a checkout or another override.
		return CopyResponse{}, ErrConflict("copy status changed concurrently")
	}

	log.Printf("[INFO] copy %s status set to %s", c.Barcode, next)

	out, err := s.store.GetCopyByID(ctx, c.CopyID)
	if err != nil {
		return CopyResponse{}, err
	}
	return copyToDTO(out), nil
}
