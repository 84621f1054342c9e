package media

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultUploadMaxAge is how long a spooled upload may sit before it is swept.
const DefaultUploadMaxAge = time.Hour

// Housekeeper periodically removes abandoned uploads from the spool directory.
type Housekeeper struct {
	scheduler *cron.Cron
	library   *Library
	maxAge    time.Duration
	logger    *logrus.Logger
}

// NewHousekeeper registers the sweep on a cron spec such as "@hourly".
func NewHousekeeper(lib *Library, spec string, maxAge time.Duration, logger *logrus.Logger) (*Housekeeper, error) {
	h := &Housekeeper{
		scheduler: cron.New(),
		library:   lib,
		maxAge:    maxAge,
		logger:    logger,
	}
	if _, err := h.scheduler.AddFunc(spec, h.Sweep); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", spec, err)
	}
	return h, nil
}

// Start begins the cron scheduler.
func (h *Housekeeper) Start() {
	h.scheduler.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (h *Housekeeper) Stop() {
	<-h.scheduler.Stop().Done()
}

// Sweep runs one cleanup pass.
func (h *Housekeeper) Sweep() {
	n, err := h.library.SweepUploads(time.Now(), h.maxAge)
	if err != nil {
		h.logger.WithError(err).Warn("Upload sweep failed")
		return
	}
	if n > 0 {
		h.logger.WithField("removed", n).Info("Swept stale uploads")
	}
}
