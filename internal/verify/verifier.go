// Package verify runs the periodic address state-verification batch:
// geocode unverified addresses, compare the stored state to the geocoded
// admin level, and route mismatches to an operator digest.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocode-pipeline/internal/geocoder"
	"github.com/sells-group/geocode-pipeline/internal/model"
	"github.com/sells-group/geocode-pipeline/internal/notify"
	"github.com/sells-group/geocode-pipeline/pkg/geocode"
)

// DefaultBatchSize is how many unverified addresses one run processes.
const DefaultBatchSize = 10

// Store is the persistence surface the verifier needs.
type Store interface {
	ListUnverified(ctx context.Context, limit int) ([]model.Address, error)
	GetAddress(ctx context.Context, id int64) (*model.Address, error)
	SetVerifyStatus(ctx context.Context, id int64, status model.VerifyStatus) error
	MarkVerifiedBatch(ctx context.Context, ids []int64, beforeCommit func(ctx context.Context) error) error
}

// Verifier processes unverified addresses in batches.
type Verifier struct {
	orch        geocoder.Runner
	store       Store
	notifier    notify.Notifier
	batchSize   int
	editURLBase string
}

// Option configures the Verifier.
type Option func(*Verifier)

// WithBatchSize overrides the per-run address limit.
func WithBatchSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.batchSize = n
		}
	}
}

// WithEditURLBase sets the base URL used to build per-address edit links in
// the digest.
func WithEditURLBase(base string) Option {
	return func(v *Verifier) {
		v.editURLBase = strings.TrimRight(base, "/")
	}
}

// New creates a Verifier.
func New(orch geocoder.Runner, store Store, notifier notify.Notifier, opts ...Option) *Verifier {
	v := &Verifier{
		orch:      orch,
		store:     store,
		notifier:  notifier,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Report summarizes one verification run.
type Report struct {
	Processed  int
	Verified   int
	Mismatched int
	Errored    int
	Skipped    int // mismatches resolved concurrently before notification
}

// Run processes one batch of unverified addresses. Per-address geocoding
// failures mark the address VERIFY_ERROR and continue the loop; only the
// final mark-and-notify step can fail the run.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	log := zap.L().With(zap.String("component", "verify"))

	addrs, err := v.store.ListUnverified(ctx, v.batchSize)
	if err != nil {
		return nil, eris.Wrap(err, "verify: list unverified")
	}

	report := &Report{Processed: len(addrs)}
	type pending struct {
		addr  model.Address
		admin geocode.AdminLevel
	}
	var mismatched []pending

	for i := range addrs {
		addr := addrs[i]
		outcome, err := v.orch.Run(ctx, model.SnapshotFromAddress(&addr))
		if err != nil {
			report.Errored++
			log.Warn("verification geocode failed",
				zap.Int64("address_id", addr.ID),
				zap.Error(err),
			)
			if setErr := v.store.SetVerifyStatus(ctx, addr.ID, model.VerifyError); setErr != nil {
				log.Error("failed to persist verify error", zap.Int64("address_id", addr.ID), zap.Error(setErr))
			}
			continue
		}

		admin := outcome.Candidate.State()
		if StateMatches(addr.State, admin) {
			report.Verified++
			if setErr := v.store.SetVerifyStatus(ctx, addr.ID, model.Verified); setErr != nil {
				log.Error("failed to persist verified status", zap.Int64("address_id", addr.ID), zap.Error(setErr))
			}
			continue
		}

		mismatched = append(mismatched, pending{addr: addr, admin: admin})
	}

	if len(mismatched) == 0 {
		return report, nil
	}

	// Re-fetch each mismatch before notifying: another process may have
	// verified the address since the scan above.
	var fresh []pending
	for _, m := range mismatched {
		current, err := v.store.GetAddress(ctx, m.addr.ID)
		if err != nil {
			return report, eris.Wrapf(err, "verify: refetch address %d", m.addr.ID)
		}
		if current == nil || current.Verified == model.Verified {
			report.Skipped++
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return report, nil
	}

	ids := make([]int64, len(fresh))
	mismatches := make([]notify.Mismatch, len(fresh))
	for i, m := range fresh {
		ids[i] = m.addr.ID
		mismatches[i] = notify.Mismatch{
			AddressID:     m.addr.ID,
			AddressLine:   m.addr.AddressLine1,
			City:          m.addr.City,
			ZipCode:       m.addr.ZipCode,
			ExpectedState: m.addr.State,
			FoundState:    m.admin.Name,
			FoundCode:     m.admin.Code,
			EditURL:       v.editURL(m.addr.ID),
		}
	}
	digest := notify.NewDigest(mismatches)

	// A mismatch is noted to a human, not blocking: the addresses are
	// still marked VERIFIED, atomically with the notification.
	err = v.store.MarkVerifiedBatch(ctx, ids, func(ctx context.Context) error {
		return v.notifier.SendMismatchDigest(ctx, digest)
	})
	if err != nil {
		return report, eris.Wrap(err, "verify: mark and notify mismatches")
	}

	report.Mismatched = len(fresh)
	log.Info("verification run complete",
		zap.Int("processed", report.Processed),
		zap.Int("verified", report.Verified),
		zap.Int("mismatched", report.Mismatched),
		zap.Int("errored", report.Errored),
	)
	return report, nil
}

// StateMatches reports whether the stored state equals the geocoded admin
// level by trimmed, case-insensitive comparison against either the full
// name or the short code.
func StateMatches(stored string, admin geocode.AdminLevel) bool {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return false
	}
	return strings.EqualFold(stored, strings.TrimSpace(admin.Name)) ||
		strings.EqualFold(stored, strings.TrimSpace(admin.Code))
}

func (v *Verifier) editURL(id int64) string {
	if v.editURLBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/addresses/%d/edit", v.editURLBase, id)
}
