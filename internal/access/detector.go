package access

import (
	"context"
	"sync"
	"time"

	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

// DetectorConfig holds the sliding-window thresholds
type DetectorConfig struct {
	Threshold       int
	Window          time.Duration
	CleanupInterval time.Duration
}

// Detector tracks denied access attempts per actor and flags actors whose
// denials within the window reach the threshold. It only logs and counts;
// the audit trail already holds one ALERT per denial.
type Detector struct {
	config  DetectorConfig
	clock   types.Clock
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector

	mutex   sync.Mutex
	denials map[string][]time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewDetector creates a suspicious activity detector
func NewDetector(config DetectorConfig, clock types.Clock, metrics *monitoring.MetricsCollector, log *logger.Logger) *Detector {
	if config.Threshold < 1 {
		config.Threshold = 5
	}
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = config.Window
	}
	if clock == nil {
		clock = types.SystemClock
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Detector{
		config:   config,
		clock:    clock,
		logger:   log,
		metrics:  metrics,
		denials:  make(map[string][]time.Time),
		stopChan: make(chan struct{}),
	}
}

// RecordDenial registers a denied attempt and reports whether it pushed the
// actor to the threshold.
func (d *Detector) RecordDenial(actorID, patientID, reason string) bool {
	now := d.clock()

	d.mutex.Lock()
	recent := prune(d.denials[actorID], now.Add(-d.config.Window))
	recent = append(recent, now)
	d.denials[actorID] = recent
	count := len(recent)
	d.mutex.Unlock()

	if count != d.config.Threshold {
		return false
	}

	d.metrics.RecordSuspiciousActor()
	d.logger.Security("suspicious_access_pattern", actorID, map[string]interface{}{
		"denials":     count,
		"window":      d.config.Window.String(),
		"last_target": patientID,
		"last_reason": reason,
	})
	return true
}

// RecentDenials returns the number of denials for actorID inside the window
func (d *Detector) RecentDenials(actorID string) int {
	cutoff := d.clock().Add(-d.config.Window)

	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(prune(d.denials[actorID], cutoff))
}

// Start launches the background cleanup routine
func (d *Detector) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-ctx.Done():
				return
			case <-d.stopChan:
				return
			}
		}
	}()
}

// Stop halts the cleanup routine
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}

func (d *Detector) cleanup() {
	cutoff := d.clock().Add(-d.config.Window)

	d.mutex.Lock()
	defer d.mutex.Unlock()
	for actorID, stamps := range d.denials {
		if remaining := prune(stamps, cutoff); len(remaining) > 0 {
			d.denials[actorID] = remaining
		} else {
			delete(d.denials, actorID)
		}
	}
}

// prune drops timestamps at or before cutoff; stamps are in ascending order
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
