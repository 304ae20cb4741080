package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes the digest to the application log. It is the
// default delivery when no mail or webhook target is configured.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// SendMismatchDigest logs each mismatch at warn level.
func (n *LogNotifier) SendMismatchDigest(_ context.Context, d Digest) error {
	log := zap.L().With(zap.String("component", "notify.log"))
	log.Warn("address state mismatches found",
		zap.String("run_id", d.RunID),
		zap.Int("count", len(d.Mismatches)),
	)
	for _, m := range d.Mismatches {
		log.Warn("state mismatch",
			zap.Int64("address_id", m.AddressID),
			zap.String("expected_state", m.ExpectedState),
			zap.String("found_state", m.FoundState),
			zap.String("found_code", m.FoundCode),
		)
	}
	return nil
}
