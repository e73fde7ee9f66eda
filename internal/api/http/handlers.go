package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/GriffinCanCode/librarian/internal/domain/inventory"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/storage"
	"github.com/GriffinCanCode/librarian/internal/shared/errs"
	"github.com/gin-gonic/gin"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

const healthTimeout = 2 * time.Second

// Lending is the inventory surface the handlers need.
type Lending interface {
	Borrow(ctx context.Context, userID, bookID int64) (inventory.Result, error)
	Return(ctx context.Context, userID, bookID int64) (inventory.Result, error)
	History(ctx context.Context, filter inventory.HistoryFilter) ([]inventory.HistoryEntry, error)
}

// Handlers contains all HTTP handlers of the lending service.
type Handlers struct {
	lending  Lending
	breakers *resilience.Registry
	pool     *storage.Pool
	metrics  *HandlerMetrics
}

// NewHandlers creates a new handler set
func NewHandlers(lending Lending, breakers *resilience.Registry, pool *storage.Pool, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		lending:  lending,
		breakers: breakers,
		pool:     pool,
		metrics:  NewHandlerMetrics(metrics),
	}
}

// LendingRequest is the body of borrow and return requests.
type LendingRequest struct {
	UserID *int64 `json:"user_id" binding:"required"`
	BookID *int64 `json:"book_id" binding:"required"`
}

var errMissingFields = errs.Validation("user_id and book_id are required")

// Root reports service identity and aggregate request counters.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "librarian",
		"version": Version,
		"metrics": h.metrics.Snapshot(),
	})
}

// Health checks storage reachability and reports breaker and pool state.
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":   "healthy",
		"storage":  gin.H{"reachable": true, "pool": h.pool.Stats()},
		"breakers": h.breakers.Snapshot(),
	}
	if err := h.pool.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["storage"] = gin.H{"reachable": false, "pool": h.pool.Stats()}
	}
	c.JSON(status, body)
}

// Borrow lends one copy of a book to a user.
func (h *Handlers) Borrow(c *gin.Context) {
	userID, bookID, ok := h.bindLending(c)
	if !ok {
		return
	}

	result, err := h.lending.Borrow(c.Request.Context(), userID, bookID)
	if err != nil {
		h.metrics.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Return takes back a borrowed copy.
func (h *Handlers) Return(c *gin.Context) {
	userID, bookID, ok := h.bindLending(c)
	if !ok {
		return
	}

	result, err := h.lending.Return(c.Request.Context(), userID, bookID)
	if err != nil {
		h.metrics.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// History lists borrow records, optionally filtered by user_id and active.
func (h *Handlers) History(c *gin.Context) {
	var filter inventory.HistoryFilter

	if raw := c.Query("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			h.metrics.Fail(c, errs.Validation("user_id must be a positive integer"))
			return
		}
		filter.UserID = userID
	}
	if !h.bindListOptions(c, &filter) {
		return
	}

	h.writeHistory(c, filter)
}

// UserHistory lists the borrow records of one user.
func (h *Handlers) UserHistory(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		h.metrics.Fail(c, errs.Validation("user id must be a positive integer"))
		return
	}

	filter := inventory.HistoryFilter{UserID: userID}
	if !h.bindListOptions(c, &filter) {
		return
	}

	h.writeHistory(c, filter)
}

// Breakers reports every circuit breaker. Read-only.
func (h *Handlers) Breakers(c *gin.Context) {
	c.JSON(http.StatusOK, h.breakers.Snapshot())
}

func (h *Handlers) writeHistory(c *gin.Context, filter inventory.HistoryFilter) {
	entries, err := h.lending.History(c.Request.Context(), filter)
	if err != nil {
		h.metrics.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": entries,
		"count":   len(entries),
	})
}

func (h *Handlers) bindLending(c *gin.Context) (userID, bookID int64, ok bool) {
	var req LendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.Fail(c, errMissingFields)
		return 0, 0, false
	}
	return *req.UserID, *req.BookID, true
}

func (h *Handlers) bindListOptions(c *gin.Context, filter *inventory.HistoryFilter) bool {
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			h.metrics.Fail(c, errs.Validation("active must be true or false"))
			return false
		}
		filter.ActiveOnly = active
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.metrics.Fail(c, errs.Validation("limit must be an integer"))
			return false
		}
		filter.Limit = limit
	}
	return true
}
