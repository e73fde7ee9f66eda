package storage

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// SeedBook is a catalogue entry inserted by Seed.
type SeedBook struct {
	Title    string
	Author   string
	Quantity int
}

// DefaultBooks is the starter catalogue.
var DefaultBooks = []SeedBook{
	{Title: "Book1", Author: "Author1", Quantity: 5},
	{Title: "Book2", Author: "Author2", Quantity: 3},
	{Title: "Book3", Author: "Author3", Quantity: 10},
}

// DefaultUsers is the starter member list.
var DefaultUsers = []string{"User Name One", "Two User Name"}

// SeedResult reports how many rows Seed inserted.
type SeedResult struct {
	Users int
	Books int
}

// Seed inserts the given users and books when both tables are empty. A
// database that already holds data is left untouched.
func (p *Pool) Seed(ctx context.Context, users []string, books []SeedBook) (SeedResult, error) {
	var result SeedResult

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"users", "books"} {
		query, args, err := p.dialect.From(table).Select(goqu.COUNT("*")).Prepared(true).ToSQL()
		if err != nil {
			return result, fmt.Errorf("build count query: %w", err)
		}
		var n int
		if err := tx.GetContext(ctx, &n, query, args...); err != nil {
			return result, fmt.Errorf("count %s: %w", table, err)
		}
		if n > 0 {
			return result, nil
		}
	}

	if len(users) > 0 {
		rows := make([]any, 0, len(users))
		for _, name := range users {
			rows = append(rows, goqu.Record{"name": name})
		}
		if err := p.insertRows(ctx, tx, "users", rows); err != nil {
			return result, err
		}
		result.Users = len(users)
	}

	if len(books) > 0 {
		rows := make([]any, 0, len(books))
		for _, b := range books {
			rows = append(rows, goqu.Record{"title": b.Title, "author": b.Author, "quantity": b.Quantity})
		}
		if err := p.insertRows(ctx, tx, "books", rows); err != nil {
			return result, err
		}
		result.Books = len(books)
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("commit seed: %w", err)
	}
	return result, nil
}

func (p *Pool) insertRows(ctx context.Context, tx *sqlx.Tx, table string, rows []any) error {
	query, args, err := p.dialect.Insert(table).Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build %s insert: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}
