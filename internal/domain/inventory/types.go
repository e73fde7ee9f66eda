package inventory

import "time"

// Book is a catalogue entry. Quantity counts the copies on the shelf.
type Book struct {
	ID       int64  `db:"id" json:"id"`
	Title    string `db:"title" json:"title"`
	Author   string `db:"author" json:"author"`
	Quantity int    `db:"quantity" json:"quantity"`
}

// User is a library member.
type User struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// BorrowRecord tracks one loan. ReturnDate is nil while the book is out.
type BorrowRecord struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	BookID     int64      `db:"book_id" json:"book_id"`
	BorrowDate time.Time  `db:"borrow_date" json:"borrow_date"`
	ReturnDate *time.Time `db:"return_date" json:"return_date"`
}

// Active reports whether the book has not been returned yet.
func (r BorrowRecord) Active() bool {
	return r.ReturnDate == nil
}

// HistoryEntry is a borrow record joined with the member name and book title.
type HistoryEntry struct {
	BorrowRecord
	UserName  string `db:"user_name" json:"user_name"`
	BookTitle string `db:"book_title" json:"book_title"`
}

// HistoryFilter narrows a history query. Zero values mean no filter.
type HistoryFilter struct {
	UserID     int64
	ActiveOnly bool
	Limit      int
}

// Result is the outcome of a successful borrow or return.
type Result struct {
	Message string `json:"message"`
}

// Operation outcomes reported to the Recorder.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeConflict    = "conflict"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)
