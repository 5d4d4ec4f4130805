/*
Package report renders the hearing schedule as PDF or XLSX.

PURPOSE:
  A pure formatting step over scheduled hearings. The Generator queries
  the store for one region and date range; Render writes the same row set
  and column layout in either format.

LAYOUT:
  Header block:  title, region, period, generated-at
  Warning:       banner above the table when the schedule has reached
                 WarningThreshold rows
  Table:         No. | Claim No. | Worker | Hearing Date | Venue | Type
                 header row repeated on every PDF page

SEE ALSO:
  - pdf.go: fpdf rendition (landscape A4, page numbers)
  - xlsx.go: excelize rendition (bold frozen header row)
*/
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
)

// WarningThreshold is the row count at which the completion warning shows.
const WarningThreshold = 59

const Title = "Hearing Schedule"

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat defaults to PDF when s is empty.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", &generic.FieldError{Field: "format", Message: fmt.Sprintf("unsupported format %q (use pdf or xlsx)", s)}
	}
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/pdf"
}

// =============================================================================
// COLUMN LAYOUT
// =============================================================================

// Column is one table column. Width is in millimetres on the PDF page and
// scaled to character widths in XLSX.
type Column struct {
	Title string
	Width float64
	Align string // fpdf alignment: "L", "C" or "R"
}

// Columns sum to the 277mm printable width of landscape A4.
var Columns = []Column{
	{Title: "No.", Width: 15, Align: "C"},
	{Title: "Claim No.", Width: 40, Align: "L"},
	{Title: "Worker", Width: 70, Align: "L"},
	{Title: "Hearing Date", Width: 35, Align: "C"},
	{Title: "Venue", Width: 72, Align: "L"},
	{Title: "Type", Width: 45, Align: "L"},
}

// =============================================================================
// SCHEDULE
// =============================================================================

type Schedule struct {
	Region      generic.Region
	From        generic.TimePoint
	To          generic.TimePoint
	GeneratedAt time.Time
	Hearings    []claims.Hearing
}

// Rows returns the table cells in column order.
func (s *Schedule) Rows() [][]string {
	rows := make([][]string, 0, len(s.Hearings))
	for i, h := range s.Hearings {
		claimNo := h.DisplayIRN
		if claimNo == "" {
			claimNo = string(h.IRN)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			claimNo,
			h.WorkerName,
			h.Date.String(),
			h.Venue,
			h.Type,
		})
	}
	return rows
}

// HeaderLines is the header block under the title.
func (s *Schedule) HeaderLines() []string {
	return []string{
		"Region: " + string(s.Region),
		fmt.Sprintf("Period: %s to %s", s.From, s.To),
		"Generated: " + s.GeneratedAt.Format("2006-01-02 15:04"),
	}
}

// Warning returns the banner text, or "" below the threshold.
func (s *Schedule) Warning() string {
	if len(s.Hearings) < WarningThreshold {
		return ""
	}
	return fmt.Sprintf("Warning: %d hearings listed. The schedule has reached the completion threshold of %d.",
		len(s.Hearings), WarningThreshold)
}

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	store claims.HearingReader
	now   func() time.Time
}

func NewGenerator(store claims.HearingReader) *Generator {
	return &Generator{store: store, now: time.Now}
}

// Schedule loads the region's scheduled hearings in [from, to].
func (g *Generator) Schedule(ctx context.Context, region generic.Region, from, to generic.TimePoint) (*Schedule, error) {
	if from.IsZero() || to.IsZero() {
		return nil, &generic.FieldError{Field: "from", Message: "from and to dates are required"}
	}
	if to.Before(from) {
		return nil, &generic.FieldError{Field: "to", Message: "to must not be before from"}
	}

	hearings, err := g.store.ListHearings(ctx, region, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load hearings: %w", err)
	}
	return &Schedule{
		Region:      region,
		From:        from,
		To:          to,
		GeneratedAt: g.now(),
		Hearings:    hearings,
	}, nil
}

// Render writes the schedule in the requested format.
func Render(w io.Writer, s *Schedule, format Format) error {
	switch format {
	case FormatPDF:
		return RenderPDF(w, s)
	case FormatXLSX:
		return RenderXLSX(w, s)
	default:
		return &generic.FieldError{Field: "format", Message: fmt.Sprintf("unsupported format %q", format)}
	}
}
