package extract

import (
	"context"
	"fmt"
	"log"

	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/storage"
)

// Extractor decides when a store holds a shippable window of reports.
// It keeps no state between calls; everything lives in the store.
type Extractor struct {
	policy   Policy
	observer Observer
}

// New creates an extractor for a valid policy. A nil observer is allowed.
func New(policy Policy, observer Observer) (*Extractor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Extractor{policy: policy, observer: observer}, nil
}

// NewDefault creates an extractor with the production thresholds
func NewDefault(observer Observer) *Extractor {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Extractor{policy: DefaultPolicy(), observer: observer}
}

// Policy returns the thresholds in use
func (e *Extractor) Policy() Policy {
	return e.policy
}

// CheckAndExtract returns the next batch, or nil when the store is not ready.
// Attempts repeat while they drop reports, so unusable prefixes are purged
// eagerly; an attempt that leaves the store untouched ends the loop.
func (e *Extractor) CheckAndExtract(ctx context.Context, store storage.Store) (*Batch, error) {
	for {
		before := len(store.SampleStartTimes())
		log.Printf("Installation %d check and extract starts with %d reports", store.InstallationID(), before)

		batch, err := e.checkAndExtractOnce(ctx, store)
		if err != nil {
			return nil, err
		}
		if batch != nil {
			return batch, nil
		}

		after := len(store.SampleStartTimes())
		if after == before {
			log.Printf("Installation %d check and extract ends with %d reports", store.InstallationID(), after)
			return nil, nil
		}
	}
}

// Retire deletes the batch's retire set and looks for the next batch.
func (e *Extractor) Retire(ctx context.Context, store storage.Store, batch *Batch) (*Batch, error) {
	log.Printf("Installation %d did submit, retiring %d of %d reports",
		batch.InstallationID, len(batch.RetireSet), len(batch.Reports))
	if err := store.Delete(ctx, batch.RetireSet); err != nil {
		return nil, fmt.Errorf("failed to retire submitted reports: %w", err)
	}
	return e.CheckAndExtract(ctx, store)
}

func (e *Extractor) checkAndExtractOnce(ctx context.Context, store storage.Store) (*Batch, error) {
	id := store.InstallationID()

	starts := store.SampleStartTimes()
	window := starts[:min(len(starts), e.policy.windowSize())]

	// Gap between consecutive start times
	maxGap := e.policy.maxGapSeconds()
	for i := 0; i+1 < len(window); i++ {
		if window[i+1]-window[i] <= maxGap {
			continue
		}
		if !e.policy.fits(i + 1) {
			log.Printf("Installation %d dropping %d reports with too much separation", id, i+1)
			if err := store.Delete(ctx, window[:i+1]); err != nil {
				return nil, fmt.Errorf("failed to drop separated reports: %w", err)
			}
			e.observer.Dropped(id, DropGap, i+1)
			return nil, nil
		}
		window = window[:i+1]
		break
	}

	if !e.policy.fits(len(window)) {
		return nil, nil
	}

	reports, err := store.Get(ctx, window)
	if err != nil {
		log.Printf("Installation %d extraction abandoned: %v", id, err)
		return nil, fmt.Errorf("failed to read window of installation %d: %w", id, err)
	}

	// Source address must match the first report's
	host := reports[0].SourceHost()
	for i := 1; i < len(reports); i++ {
		if reports[i].SourceHost() == host {
			continue
		}
		if !e.policy.fits(i) {
			log.Printf("Installation %d dropping %d reports with wrong address", id, i)
			if err := store.Delete(ctx, window[:i]); err != nil {
				return nil, fmt.Errorf("failed to drop misaddressed reports: %w", err)
			}
			e.observer.Dropped(id, DropAddress, i)
			return nil, nil
		}
		reports = reports[:i]
		window = window[:i]
		break
	}

	if !e.policy.fits(len(window)) {
		return nil, nil
	}

	if countObservations(reports) < e.policy.MinRequiredReports {
		return nil, nil
	}

	retire := make([]int64, len(window)/2)
	copy(retire, window)

	log.Printf("Installation %d builds submittable batch with %d reports", id, len(reports))
	e.observer.Built(id, len(reports))
	return &Batch{
		InstallationID: id,
		Reports:        reports,
		RetireSet:      retire,
	}, nil
}

// countObservations flattens the reports into their observation timestamps
func countObservations(reports []report.Report) int {
	total := 0
	for _, r := range reports {
		total += len(report.ObservationTimestamps(r.Payload))
	}
	return total
}
