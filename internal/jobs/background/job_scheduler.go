package background

import (
	"context"
	"log"
	"sync"
	"time"

	"newsroomledger/internal/repositories"
	"newsroomledger/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// JobScheduler manages background jobs for the ledger service
type JobScheduler struct {
	scheduler     gocron.Scheduler
	creditService services.CreditService
	accountRepo   repositories.TenantAccountRepository
	jobJobs       map[string]gocron.Job
	mu            sync.RWMutex
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(creditService services.CreditService, accountRepo repositories.TenantAccountRepository) *JobScheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	js := &JobScheduler{
		scheduler:     scheduler,
		creditService: creditService,
		accountRepo:   accountRepo,
		jobJobs:       make(map[string]gocron.Job),
	}

	js.registerJobs()

	return js
}

// Start starts the job scheduler
func (js *JobScheduler) Start() error {
	log.Printf("Starting background job scheduler")
	js.scheduler.Start()
	return nil
}

// Stop stops the job scheduler
func (js *JobScheduler) Stop() error {
	log.Printf("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

// registerJobs registers all background jobs
func (js *JobScheduler) registerJobs() {
	// Trial expiry sweep - every hour
	trialJob, err := js.scheduler.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(js.sweepExpiredTrials, context.Background()),
		gocron.WithName("trial-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create trial expiry job: %v", err)
	} else {
		js.jobJobs["trial-expiry"] = trialJob
	}

	// Ledger audit job - every 6 hours
	auditJob, err := js.scheduler.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(js.auditLedgers, context.Background()),
		gocron.WithName("ledger-audit"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create ledger audit job: %v", err)
	} else {
		js.jobJobs["ledger-audit"] = auditJob
	}

	log.Printf("Registered %d background jobs", len(js.jobJobs))
}

// sweepExpiredTrials suspends trial accounts whose trial window has lapsed
func (js *JobScheduler) sweepExpiredTrials(ctx context.Context) error {
	log.Printf("Starting trial expiry sweep")

	suspended, err := js.creditService.SuspendExpiredTrials(ctx)
	if err != nil {
		log.Printf("Trial expiry sweep failed: %v", err)
		return err
	}

	log.Printf("Trial expiry sweep completed, suspended %d accounts", suspended)
	return nil
}

// auditLedgers replays every tenant's ledger and reports snapshots that
// disagree with the entry sums
func (js *JobScheduler) auditLedgers(ctx context.Context) error {
	log.Printf("Starting ledger audit")

	tenantIDs, err := js.accountRepo.ListTenantIDs(ctx)
	if err != nil {
		log.Printf("Failed to list tenants for ledger audit: %v", err)
		return err
	}

	// Process tenants in parallel with concurrency control
	semaphore := make(chan struct{}, 5)
	var wg sync.WaitGroup
	var mu sync.Mutex
	divergent := 0

	for _, tenantID := range tenantIDs {
		wg.Add(1)
		go func(tenantID uuid.UUID) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			report, err := js.creditService.VerifyLedger(ctx, tenantID)
			if err != nil {
				log.Printf("Failed to audit ledger for tenant %s: %v", tenantID.String(), err)
				return
			}
			if !report.Consistent() {
				mu.Lock()
				divergent++
				mu.Unlock()
				log.Printf("ALERT: ledger divergence for tenant %s: snapshot sub=%d top=%d, replay sub=%d top=%d",
					tenantID.String(),
					report.SnapshotSubscription, report.SnapshotTopOff,
					report.ReplayedSubscription, report.ReplayedTopOff)
			}
		}(tenantID)
	}

	wg.Wait()
	log.Printf("Completed ledger audit for %d tenants, %d divergent", len(tenantIDs), divergent)
	return nil
}

// AddJob adds a custom job to the scheduler
func (js *JobScheduler) AddJob(name string, interval time.Duration, taskFn interface{}, params ...interface{}) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, err := js.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(taskFn, params...),
		gocron.WithName(name),
	)

	if err != nil {
		return err
	}

	js.jobJobs[name] = job
	log.Printf("Added custom job: %s", name)
	return nil
}

// RemoveJob removes a job from the scheduler
func (js *JobScheduler) RemoveJob(name string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if job, exists := js.jobJobs[name]; exists {
		err := js.scheduler.RemoveJob(job.ID())
		delete(js.jobJobs, name)
		return err
	}

	return nil
}

// GetJobStatus returns information about scheduled jobs
func (js *JobScheduler) GetJobStatus() map[string]interface{} {
	js.mu.RLock()
	defer js.mu.RUnlock()

	status := make(map[string]interface{})
	status["total_jobs"] = len(js.jobJobs)
	jobs := make([]string, 0, len(js.jobJobs))

	for name := range js.jobJobs {
		jobs = append(jobs, name)
	}

	status["jobs"] = jobs

	return status
}
