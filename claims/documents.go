package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// DOCUMENT COMPLETENESS
// =============================================================================

// Attachment type labels. Matching is exact after trimming whitespace.
const (
	DocSupervisorStatement = "Supervisor statement"
	DocFinalMedicalReport  = "Final medical report"
	DocDeathCertificate    = "Death Certificate"
	DocPayslip             = "Payslip at time of accident"
)

// OrgTypeState is the employer organization type that also requires a payslip.
const OrgTypeState = "State"

// Required returns the mandatory attachment labels for a case, in display
// order.
func Required(incident generic.IncidentType, orgType string) []string {
	var required []string
	switch incident {
	case generic.IncidentDeath:
		required = []string{DocSupervisorStatement, DocDeathCertificate}
	default:
		required = []string{DocSupervisorStatement, DocFinalMedicalReport}
	}
	if strings.TrimSpace(orgType) == OrgTypeState {
		required = append(required, DocPayslip)
	}
	return required
}

// Missing returns required minus available, preserving the order of
// required.
func Missing(required, available []string) []string {
	have := make(map[string]bool, len(available))
	for _, a := range available {
		have[strings.TrimSpace(a)] = true
	}
	missing := []string{}
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

// DocumentStatus is the completeness view of one case.
type DocumentStatus struct {
	Required  []string `json:"required"`
	Available []string `json:"available"`
	Missing   []string `json:"missing"`
}

func (s DocumentStatus) Complete() bool { return len(s.Missing) == 0 }

// DocumentChecker derives document completeness from attachments.
type DocumentChecker struct {
	store AttachmentReader
}

func NewDocumentChecker(store AttachmentReader) *DocumentChecker {
	return &DocumentChecker{store: store}
}

// Check loads the case's attachments. A store failure is returned as is;
// it is not retried.
func (d *DocumentChecker) Check(ctx context.Context, file *File) (DocumentStatus, error) {
	return d.CheckFor(ctx, file, file.Case.Incident.Type)
}

// CheckFor is Check with the required set derived from incident instead of
// the case's recorded incident type.
func (d *DocumentChecker) CheckFor(ctx context.Context, file *File, incident generic.IncidentType) (DocumentStatus, error) {
	attachments, err := d.store.ListAttachments(ctx, file.Case.IRN)
	if err != nil {
		return DocumentStatus{}, fmt.Errorf("failed to load attachments for %s: %w", file.Case.IRN, err)
	}

	available := make([]string, 0, len(attachments))
	seen := make(map[string]bool)
	for _, a := range attachments {
		label := strings.TrimSpace(a.Type)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		available = append(available, label)
	}

	required := Required(incident, file.OrganizationType())
	return DocumentStatus{
		Required:  required,
		Available: available,
		Missing:   Missing(required, available),
	}, nil
}
