package registry

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/nicktill/tixcondenser/pkg/extract"
	"github.com/nicktill/tixcondenser/pkg/report"
)

// ErrAlreadySubmitted is returned when OnSubmitSuccess is called on a batch
// that was already retired or released
var ErrAlreadySubmitted = errors.New("batch already marked as submitted")

// Submittable is a batch ready to ship, bound to the store it came from.
// Exactly one of OnSubmitSuccess or Release ends it; until then the
// installation builds no other batch.
type Submittable struct {
	batch     *extract.Batch
	entry     *entry
	extractor *extract.Extractor
	used      atomic.Bool
}

// ID is the owning installation's id in string form
func (s *Submittable) ID() string {
	return s.batch.ID()
}

// InstallationID returns the owning installation
func (s *Submittable) InstallationID() int64 {
	return s.batch.InstallationID
}

// Reports returns the reports to submit, in order
func (s *Submittable) Reports() []report.Report {
	return s.batch.Reports
}

// RetireSet returns the start timestamps deleted on success
func (s *Submittable) RetireSet() []int64 {
	return s.batch.RetireSet
}

// OnSubmitSuccess retires the batch after confirmed delivery and returns the
// next batch of the same installation, or nil. Only the first call acts. The
// installation stays in flight only while a next batch is returned.
func (s *Submittable) OnSubmitSuccess(ctx context.Context) (*Submittable, error) {
	if !s.used.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubmitted
	}

	s.entry.mu.Lock()
	defer s.entry.mu.Unlock()

	next, err := s.extractor.Retire(ctx, s.entry.store, s.batch)
	if err != nil {
		s.entry.inFlight = false
		return nil, err
	}
	return wrap(s.entry, s.extractor, next), nil
}

// Release abandons an undelivered batch. Its reports stay stored and the
// next StorePacket or sweep extracts again. It does nothing once the batch
// was retired or released.
func (s *Submittable) Release() {
	if s == nil || !s.used.CompareAndSwap(false, true) {
		return
	}
	s.entry.mu.Lock()
	s.entry.inFlight = false
	s.entry.mu.Unlock()
	log.Printf("Installation %d batch released undelivered", s.batch.InstallationID)
}
