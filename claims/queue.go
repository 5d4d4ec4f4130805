package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// QUEUES - region-scoped listing with in-memory search
// =============================================================================

type QueueName string

const (
	QueueRegistered QueueName = "registered"
	QueueCalculated QueueName = "calculated"
	QueueReview     QueueName = "review"
	QueueAll        QueueName = "all"
)

const DefaultPageSize = 10

// Stages returns the stages listed by a queue. QueueAll returns nil.
func (q QueueName) Stages() ([]Stage, error) {
	switch q {
	case QueueRegistered:
		return []Stage{StageNoCalculation}, nil
	case QueueCalculated:
		return []Stage{StageCalculationComplete}, nil
	case QueueReview:
		return []Stage{StagePendingManagerReview}, nil
	case QueueAll:
		return nil, nil
	default:
		return nil, &generic.FieldError{Field: "queue", Message: fmt.Sprintf("unknown queue %q", q)}
	}
}

// Filter holds the free-text search fields. Matching is a
// case-insensitive substring test; empty fields match everything.
type Filter struct {
	IRN       string
	FirstName string
	LastName  string
}

func (f Filter) Match(row QueueRow) bool {
	if f.IRN != "" &&
		!containsFold(string(row.IRN), f.IRN) &&
		!containsFold(row.DisplayIRN, f.IRN) {
		return false
	}
	if f.FirstName != "" && !containsFold(row.FirstName, f.FirstName) {
		return false
	}
	if f.LastName != "" && !containsFold(row.LastName, f.LastName) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}

// Page is one page of a filtered queue.
type Page struct {
	Items      []QueueRow `json:"items"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalItems int        `json:"total_items"`
	TotalPages int        `json:"total_pages"`
}

// Paginate slices rows into 1-based pages. Pages past the end are empty
// but still report the totals.
func Paginate(rows []QueueRow, page, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	total := len(rows)
	p := Page{
		Items:      []QueueRow{},
		Page:       page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: (total + size - 1) / size,
	}
	if page > p.TotalPages {
		return p
	}
	start := (page - 1) * size
	end := start + size
	if end > total {
		end = total
	}
	p.Items = rows[start:end]
	return p
}

// QueueService lists queues for the signed-in officer's region.
type QueueService struct {
	store    QueueReader
	pageSize int
}

func NewQueueService(store QueueReader, pageSize int) *QueueService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &QueueService{store: store, pageSize: pageSize}
}

// List fetches the region-scoped rows, then filters and paginates them in
// memory.
func (s *QueueService) List(ctx context.Context, region generic.Region, queue QueueName, filter Filter, page int) (Page, error) {
	stages, err := queue.Stages()
	if err != nil {
		return Page{}, err
	}

	rows, err := s.store.ListQueue(ctx, region, stages)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list %s queue: %w", queue, err)
	}

	filtered := make([]QueueRow, 0, len(rows))
	for _, r := range rows {
		if filter.Match(r) {
			filtered = append(filtered, r)
		}
	}
	return Paginate(filtered, page, s.pageSize), nil
}
