package scheduler

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"property-swipe/internal/cleanup"
	"property-swipe/internal/config"
	"property-swipe/internal/pipeline"
)

// Scheduler runs the import cycle and the retention cleanup on their
// configured cron schedules.
type Scheduler struct {
	cron      *cron.Cron
	importer  *pipeline.Importer
	cleanup   *cleanup.Service
	config    *config.Config
	isRunning bool
}

// NewScheduler creates a new scheduler. cleanupSvc may be nil when cleanup
// is disabled.
func NewScheduler(importer *pipeline.Importer, cleanupSvc *cleanup.Service, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		importer: importer,
		cleanup:  cleanupSvc,
		config:   cfg,
	}
}

// Start registers the cron jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.config.Importer.Schedule, func() {
		log.Println("Scheduler: Starting scheduled import cycle...")
		if err := s.importer.Run(context.Background()); err != nil {
			log.Printf("Scheduler: Import cycle failed: %v", err)
		} else {
			log.Println("Scheduler: Import cycle completed successfully")
		}
	})
	if err != nil {
		return err
	}

	if s.cleanup != nil && s.config.Cleanup.Enabled {
		_, err := s.cron.AddFunc(s.config.Cleanup.Schedule, func() {
			log.Println("Scheduler: Starting scheduled cleanup...")
			if err := s.cleanup.Run(); err != nil {
				log.Printf("Scheduler: Cleanup failed: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.isRunning = true
	log.Printf("Scheduler: Started with import schedule %q", s.config.Importer.Schedule)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	if s.isRunning {
		s.cron.Stop()
		s.isRunning = false
		log.Println("Scheduler: Stopped")
	}
}

// RunNow immediately executes an import cycle (for manual trigger).
func (s *Scheduler) RunNow(ctx context.Context) error {
	log.Println("Scheduler: Manual trigger - starting import cycle...")
	return s.importer.Run(ctx)
}
