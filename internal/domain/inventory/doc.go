/*
Package inventory implements the borrow and return transitions of the lending
service.

Borrow and Return each run in a single transaction on a connection checked out
through the "database" circuit breaker. The copy counter is only ever changed
by conditional statements:

	UPDATE books SET quantity = quantity - 1 WHERE id = ? AND quantity > 0

so concurrent borrowers of the last copy cannot drive it negative: exactly one
of them sees a row affected, the rest get "book is out of stock". A partial
unique index on borrow_records keeps at most one open borrow per user and
book.

Errors are classified with the errs package. Breaker rejections and pool
exhaustion surface as KindUnavailable, unexpected database failures as
KindStorage, and business rejections as KindNotFound, KindConflict or
KindValidation.
*/
package inventory
