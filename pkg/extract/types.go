package extract

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/report"
)

// Policy holds the thresholds that decide when a window ships.
type Policy struct {
	// MinRequiredReports is the minimum number of observations in a batch
	MinRequiredReports int

	// MaxReportsUsedAtOnce caps the observations considered in one attempt
	MaxReportsUsedAtOnce int

	// MaxAcceptedReportGap is the largest tolerated gap between consecutive start timestamps
	MaxAcceptedReportGap time.Duration

	// MaxMeasuresPerPacket is the nominal number of observations per report
	MaxMeasuresPerPacket int
}

// DefaultPolicy returns the production thresholds
func DefaultPolicy() Policy {
	return Policy{
		MinRequiredReports:   config.MinRequiredReports,
		MaxReportsUsedAtOnce: config.MaxReportsUsedAtOnce,
		MaxAcceptedReportGap: config.MaxAcceptedReportGap,
		MaxMeasuresPerPacket: config.MaxMeasuresPerPacket,
	}
}

// ErrInvalidPolicy is returned by New for thresholds that cannot produce a
// retirable batch
var ErrInvalidPolicy = errors.New("invalid extraction policy")

// Validate checks that every threshold is positive and that a batch always
// spans at least two reports, so its retire set is never empty.
func (p Policy) Validate() error {
	switch {
	case p.MaxMeasuresPerPacket <= 0:
		return fmt.Errorf("%w: max measures per packet must be positive, got %d", ErrInvalidPolicy, p.MaxMeasuresPerPacket)
	case p.MinRequiredReports <= 0:
		return fmt.Errorf("%w: min required reports must be positive, got %d", ErrInvalidPolicy, p.MinRequiredReports)
	case p.MaxAcceptedReportGap <= 0:
		return fmt.Errorf("%w: max accepted gap must be positive, got %v", ErrInvalidPolicy, p.MaxAcceptedReportGap)
	case p.fits(1):
		return fmt.Errorf("%w: one report of %d measures already meets the minimum of %d",
			ErrInvalidPolicy, p.MaxMeasuresPerPacket, p.MinRequiredReports)
	case !p.fits(p.windowSize()):
		return fmt.Errorf("%w: window of %d reports can never reach the minimum of %d",
			ErrInvalidPolicy, p.windowSize(), p.MinRequiredReports)
	}
	return nil
}

// windowSize is the number of reports looked at in one attempt
func (p Policy) windowSize() int {
	return p.MaxReportsUsedAtOnce / p.MaxMeasuresPerPacket
}

// fits reports whether n reports can hold the minimum number of observations
func (p Policy) fits(n int) bool {
	return n*p.MaxMeasuresPerPacket >= p.MinRequiredReports
}

// maxGapSeconds is the gap limit in start timestamp units
func (p Policy) maxGapSeconds() int64 {
	return int64(p.MaxAcceptedReportGap / time.Second)
}

// Batch is a contiguous group of reports ready to ship.
type Batch struct {
	// InstallationID owns every report in the batch
	InstallationID int64

	// Reports is the ordered prefix to submit
	Reports []report.Report

	// RetireSet holds the start timestamps deleted once the batch is delivered
	RetireSet []int64
}

// ID is the installation id in string form
func (b *Batch) ID() string {
	return strconv.FormatInt(b.InstallationID, 10)
}

// Observations counts the observation records across the batch
func (b *Batch) Observations() int {
	total := 0
	for _, r := range b.Reports {
		total += r.Observations()
	}
	return total
}

// DropReason tells why a prefix of reports was discarded
type DropReason string

const (
	DropGap     DropReason = "gap"
	DropAddress DropReason = "address"
)

// Observer is notified of engine decisions.
type Observer interface {
	Dropped(installationID int64, reason DropReason, reports int)
	Built(installationID int64, reports int)
}

type nopObserver struct{}

func (nopObserver) Dropped(int64, DropReason, int) {}
func (nopObserver) Built(int64, int)               {}
