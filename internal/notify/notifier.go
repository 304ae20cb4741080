// Package notify delivers operator-facing digests of state-verification
// mismatches.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mismatch describes one address whose stored state disagrees with the
// geocoded state.
type Mismatch struct {
	AddressID     int64  `json:"address_id"`
	AddressLine   string `json:"address_line"`
	City          string `json:"city"`
	ZipCode       string `json:"zip_code"`
	ExpectedState string `json:"expected_state"`
	FoundState    string `json:"found_state"`
	FoundCode     string `json:"found_code"`
	EditURL       string `json:"edit_url"`
}

// Digest is a single verification-run report covering all mismatches found.
type Digest struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Mismatches  []Mismatch `json:"mismatches"`
}

// NewDigest creates a digest with a fresh run ID.
func NewDigest(mismatches []Mismatch) Digest {
	return Digest{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Mismatches:  mismatches,
	}
}

// Notifier sends a mismatch digest to the operator.
type Notifier interface {
	SendMismatchDigest(ctx context.Context, d Digest) error
}

// renderText renders the digest as the plain-text email body.
func renderText(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Address state verification found %d mismatch(es).\n", len(d.Mismatches))
	fmt.Fprintf(&b, "Run %s at %s\n\n", d.RunID, d.GeneratedAt.Format(time.RFC3339))
	for _, m := range d.Mismatches {
		fmt.Fprintf(&b, "Address #%d: %s, %s %s\n", m.AddressID, m.AddressLine, m.City, m.ZipCode)
		fmt.Fprintf(&b, "  expected state: %s\n", m.ExpectedState)
		found := m.FoundState
		if m.FoundCode != "" {
			found = fmt.Sprintf("%s (%s)", m.FoundState, m.FoundCode)
		}
		fmt.Fprintf(&b, "  found state:    %s\n", found)
		if m.EditURL != "" {
			fmt.Fprintf(&b, "  edit:           %s\n", m.EditURL)
		}
		b.WriteString("\n")
	}
	return b.String()
}
