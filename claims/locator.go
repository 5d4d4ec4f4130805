package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// CLAIM LOCATOR
// =============================================================================

// Locator loads a case and its related records. Fetches run serially:
// case -> worker -> employment -> dependants, each depending on the
// previous result.
type Locator struct {
	store CaseReader
}

func NewLocator(store CaseReader) *Locator {
	return &Locator{store: store}
}

// Locate returns the case file for irn. An unknown IRN is
// generic.ErrCaseNotFound; any store failure aborts the load.
func (l *Locator) Locate(ctx context.Context, irn generic.IRN) (*File, error) {
	irn = generic.IRN(strings.TrimSpace(string(irn)))
	if irn == "" {
		return nil, generic.ErrCaseNotFound
	}

	c, err := l.store.GetCase(ctx, irn)
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", irn, err)
	}
	if c == nil {
		return nil, fmt.Errorf("case %s: %w", irn, generic.ErrCaseNotFound)
	}

	file := &File{Case: *c}

	if c.WorkerID != "" {
		w, err := l.store.GetWorker(ctx, c.WorkerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load worker %s: %w", c.WorkerID, err)
		}
		if w != nil {
			file.Worker = *w
		}
	}

	emp, err := l.store.GetEmployment(ctx, irn)
	if err != nil {
		return nil, fmt.Errorf("failed to load employment for %s: %w", irn, err)
	}
	file.Employment = emp

	deps, err := l.store.ListDependants(ctx, irn)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependants for %s: %w", irn, err)
	}
	file.Dependants = deps

	return file, nil
}
