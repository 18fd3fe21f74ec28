package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/distribution"
	"github.com/deskrelay/deskrelay/internal/pkg/env"
	"github.com/deskrelay/deskrelay/internal/pkg/metrics/counter"
	"github.com/deskrelay/deskrelay/internal/pkg/sla"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
)

const unassignedSweepBatch = 50
const slaSweepBatch = 100

// Manager runs both job queues and the periodic background sweeps: the
// unassigned-ticket retry, the SLA breach scan and the counter flush.
type Manager struct {
	inbound  *Queue
	outbound *Queue
	repos    *repository.Repositories
	engine   *distribution.Engine
	tracker  *sla.Tracker

	assignTicker       *time.Ticker
	slaTicker          *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerMu     sync.Mutex
)

// NewManager assembles a manager over the two queues and the services the
// sweeps need
func NewManager(inbound, outbound *Queue, repos *repository.Repositories, engine *distribution.Engine, tracker *sla.Tracker) *Manager {
	return &Manager{
		inbound:  inbound,
		outbound: outbound,
		repos:    repos,
		engine:   engine,
		tracker:  tracker,
		stopCh:   make(chan struct{}),
	}
}

// InitializeManager installs the global manager instance
func InitializeManager(m *Manager) {
	managerMu.Lock()
	defer managerMu.Unlock()
	globalManager = m
}

// GetManager returns the global manager
func GetManager() *Manager {
	managerMu.Lock()
	defer managerMu.Unlock()
	if globalManager == nil {
		panic("job queue manager not initialized. Call InitializeManager first.")
	}
	return globalManager
}

// Inbound returns the inbound event queue
func (m *Manager) Inbound() *Queue { return m.inbound }

// Outbound returns the outbound message queue
func (m *Manager) Outbound() *Queue { return m.outbound }

// Start starts the job queues and background sweeps
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queues and background sweeps")

	m.inbound.Start()
	m.outbound.Start()

	assignInterval := time.Duration(env.GetEnvInt("ASSIGN_SWEEP_SECONDS", 60)) * time.Second
	slaInterval := time.Duration(env.GetEnvInt("SLA_SWEEP_SECONDS", 60)) * time.Second

	m.assignTicker = time.NewTicker(assignInterval)
	m.wg.Add(1)
	go m.assignmentSweepWorker()

	m.slaTicker = time.NewTicker(slaInterval)
	m.wg.Add(1)
	go m.slaSweepWorker()

	// Counter flush worker (Redis -> DB) every 5 seconds
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queues and background sweeps
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queues and background sweeps...")

	if m.assignTicker != nil {
		m.assignTicker.Stop()
	}
	if m.slaTicker != nil {
		m.slaTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	m.inbound.Stop()
	m.outbound.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// assignmentSweepWorker periodically retries unassigned open tickets so a
// ticket that found no eligible agent is picked up once capacity frees.
func (m *Manager) assignmentSweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Assignment sweep stopping")
			return
		case <-m.assignTicker.C:
			if err := m.RunAssignmentSweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Assignment sweep error: %v", err)
			}
		}
	}
}

// slaSweepWorker periodically scans for overdue tickets
func (m *Manager) slaSweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] SLA sweep stopping")
			return
		case <-m.slaTicker.C:
			if err := m.RunSLASweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] SLA sweep error: %v", err)
			}
		}
	}
}

// counterFlushWorker periodically flushes in-memory counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// RunAssignmentSweepOnce retries assignment for a batch of unassigned
// open tickets. Each ticket's tenant context is re-established before the
// engine runs; a worker goroutine never carries a binding across tickets.
func (m *Manager) RunAssignmentSweepOnce() error {
	tickets, err := m.repos.Ticket.ListUnassigned(unassignedSweepBatch)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for i := range tickets {
		ticket := tickets[i]
		err := tenantctx.RunWithTenant(ctx, tenantctx.TenantID(ticket.TenantID), func(ctx context.Context) error {
			_, assignErr := m.engine.Assign(ctx, &ticket)
			if assignErr != nil && !errors.Is(assignErr, distribution.ErrNoEligibleAgent) {
				return assignErr
			}
			return nil
		})
		if err != nil {
			log.Errorf("[JobQueue Manager] Sweep assignment for ticket %d failed: %v", ticket.ID, err)
		}
	}
	return nil
}

// RunSLASweepOnce scans for overdue tickets and emits breach events
func (m *Manager) RunSLASweepOnce() error {
	breached, err := m.tracker.SweepOnce(context.Background(), slaSweepBatch)
	if err != nil {
		return err
	}
	if breached > 0 {
		for i := 0; i < breached; i++ {
			_ = counter.AddPipelineEvent(counter.FieldBreachesEmitted)
		}
		log.Warnf("[JobQueue Manager] SLA sweep flagged %d breached ticket(s)", breached)
	}
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
