package catalog

import "time"

type CreateAuthorRequest struct {
	Name        string  `json:"name" binding:"required"`
	Nationality *string `json:"nationality,omitempty"`
}

type AuthorResponse struct {
	AuthorID    int64   `json:"author_id"`
	Name        string  `json:"name"`
	Nationality *string `json:"nationality,omitempty"`
}

type CreateBookRequest struct {
	Title    string  `json:"title" binding:"required"`
	AuthorID int64   `json:"author_id" binding:"required"`
	ISBN     *string `json:"isbn,omitempty"`
}

type BookResponse struct {
	BookID     int64   `json:"book_id"`
	Title      string  `json:"title"`
	AuthorID   int64   `json:"author_id"`
	AuthorName string  `json:"author_name"`
	ISBN       *string `json:"isbn,omitempty"`
	IsArchived bool    `json:"is_archived"`
}

type CreateCopyRequest struct {
	BookID int64 `json:"book_id" binding:"required"`
	// Barcode is generated when omitted.
	Barcode *string `json:"barcode,omitempty"`
}

type SetCopyStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type CopyResponse struct {
	CopyID     int64     `json:"copy_id"`
	BookID     int64     `json:"book_id"`
	BookTitle  string    `json:"book_title"`
	Barcode    string    `json:"barcode"`
	Status     string    `json:"status"`
	BorrowedBy *int64    `json:"borrowed_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func authorToDTO(a *Author) AuthorResponse {
	resp := AuthorResponse{
		AuthorID: a.AuthorID,
		Name:     a.Name,
	}
	if a.Nationality.Valid {
		val := a.Nationality.String
		resp.Nationality = &val
	}
	return resp
}

func bookToDTO(b *Book) BookResponse {
	resp := BookResponse{
		BookID:     b.BookID,
		Title:      b.Title,
		AuthorID:   b.AuthorID,
		AuthorName: b.AuthorName,
		IsArchived: b.IsArchived,
	}
	if b.ISBN.Valid {
		val := b.ISBN.String
		resp.ISBN = &val
	}
	return resp
}

func copyToDTO(c *BookCopy) CopyResponse {
	resp := CopyResponse{
		CopyID:    c.CopyID,
		BookID:    c.BookID,
		BookTitle: c.BookTitle,
		Barcode:   c.Barcode,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
	}
	if c.BorrowedBy.Valid {
		val := c.BorrowedBy.Int64
		resp.BorrowedBy = &val
	}
	return resp
}
