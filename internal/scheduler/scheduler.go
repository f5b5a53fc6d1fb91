// Package scheduler drives the escalation jobs on a fixed cadence. Every job
// is idempotent, so the cadence is a liveness concern only: running late, out
// of order or twice changes nothing.
package scheduler

import (
	"log"

	"github.com/robfig/cron/v3"

	"circulation/internal/services"
)

// Job names accepted by Run and the manual-trigger endpoint.
const (
	JobDueReminders    = "due-reminders"
	JobOverdueWarnings = "overdue-warnings"
	JobOverdueHolds    = "overdue-holds"
	JobOverdueFines    = "overdue-fines"
)

type Scheduler struct {
	cron       *cron.Cron
	escalation services.EscalationService
}

func New(escalation services.EscalationService) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		escalation: escalation,
	}
}

// Start registers the four escalation jobs on the given cron spec and starts
// the cron loop in its own goroutine.
func (s *Scheduler) Start(spec string) error {
	for _, name := range []string{JobDueReminders, JobOverdueWarnings, JobOverdueHolds, JobOverdueFines} {
		name := name
		if _, err := s.cron.AddFunc(spec, func() { s.runOne(name) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	log.Printf("[INFO] scheduler: escalation jobs registered on %q", spec)
	return nil
}

// Stop halts the cron loop; a running job finishes first.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run triggers a single job by name. Returns false for an unknown name.
func (s *Scheduler) Run(name string) bool {
	switch name {
	case JobDueReminders, JobOverdueWarnings, JobOverdueHolds, JobOverdueFines:
		s.runOne(name)
		return true
	}
	return false
}

// RunAll triggers every job once, in escalation order.
func (s *Scheduler) RunAll() {
	s.runOne(JobDueReminders)
	s.runOne(JobOverdueWarnings)
	s.runOne(JobOverdueHolds)
	s.runOne(JobOverdueFines)
}

func (s *Scheduler) runOne(name string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] scheduler: job %s panicked: %v", name, r)
		}
	}()

	var err error
	switch name {
	case JobDueReminders:
		err = s.escalation.SendDueReminders()
	case JobOverdueWarnings:
		err = s.escalation.SendOverdueWarnings()
	case JobOverdueHolds:
		err = s.escalation.AutoPlaceOverdueHolds()
	case JobOverdueFines:
		err = s.escalation.AutoChargeOverdueFines()
	}
	if err != nil {
		// Jobs are idempotent; a failed run self-corrects on the next one.
		log.Printf("[ERROR] scheduler: job %s failed: %v", name, err)
	}
}
