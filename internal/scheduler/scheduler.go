// Package scheduler runs the protocol-share, DLP-share and treasury
// distribution cycles on cron cadences.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"databurn/internal/auth"
	"databurn/internal/orchestrator"
	"databurn/internal/treasury"
)

// EntitySource enumerates the entities a DLP-share batch should cover.
type EntitySource interface {
	ActiveEntities(ctx context.Context) ([]int64, error)
}

// Scheduler manages the cron tasks driving the engine.
type Scheduler struct {
	Cron     *cron.Cron
	Orch     *orchestrator.Orchestrator
	Blocks   orchestrator.BlockSource
	Entities EntitySource
	Caller   auth.Principal
	Ctx      context.Context
}

// NewScheduler creates a new Scheduler. The caller principal is used for
// every scheduled execution.
func NewScheduler(ctx context.Context, orch *orchestrator.Orchestrator, blocks orchestrator.BlockSource, entities EntitySource, caller auth.Principal) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Orch:     orch,
		Blocks:   blocks,
		Entities: entities,
		Caller:   caller,
		Ctx:      ctx,
	}
}

// RegisterAll registers the protocol-share, DLP-share and treasury
// distribution tasks.
func (s *Scheduler) RegisterAll(protocolCron, dlpCron, distributionCron string) error {
	if _, err := s.Cron.AddFunc(protocolCron, s.protocolShareTask); err != nil {
		return fmt.Errorf("register protocol share task: %w", err)
	}
	if _, err := s.Cron.AddFunc(dlpCron, s.dlpShareTask); err != nil {
		return fmt.Errorf("register dlp share task: %w", err)
	}
	if _, err := s.Cron.AddFunc(distributionCron, s.distributionTask); err != nil {
		return fmt.Errorf("register distribution task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

// RunProtocolShareNow executes the protocol-share task immediately.
func (s *Scheduler) RunProtocolShareNow() {
	s.protocolShareTask()
}

func (s *Scheduler) protocolShareTask() {
	block, err := s.Blocks.CurrentBlock(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] protocol share: current block: %v", err)
		return
	}

	res, err := s.Orch.ExecuteProtocolShare(s.Ctx, s.Caller, block)
	if err != nil {
		// Firing before the cadence elapsed is routine, not a fault.
		if errors.Is(err, orchestrator.ErrExecutionTooSoon) {
			log.Printf("[INFO] protocol share skipped: %v", err)
			return
		}
		log.Printf("[ERROR] protocol share: %v", err)
		return
	}
	log.Printf("[INFO] protocol share done: epoch=%d burned=%s skimmed=%s", res.Epoch, res.Burned, res.Skimmed)
}

func (s *Scheduler) dlpShareTask() {
	block, err := s.Blocks.CurrentBlock(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] dlp share: current block: %v", err)
		return
	}
	entityIDs, err := s.Entities.ActiveEntities(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] dlp share: list entities: %v", err)
		return
	}
	if len(entityIDs) == 0 {
		return
	}

	res, err := s.Orch.ExecuteDLPShare(s.Ctx, s.Caller, block, entityIDs)
	if err != nil {
		log.Printf("[ERROR] dlp share: %v", err)
		return
	}
	log.Printf("[INFO] dlp share done: processed=%d failed=%d", res.Processed, res.Failed)
}

func (s *Scheduler) distributionTask() {
	entityIDs, err := s.Entities.ActiveEntities(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] treasury distribution: list entities: %v", err)
		return
	}
	if len(entityIDs) == 0 {
		return
	}

	shares, err := s.Orch.DistributeTreasury(s.Ctx, s.Caller, entityIDs)
	if err != nil {
		// No tracked contribution yet is routine while the system warms up.
		if errors.Is(err, treasury.ErrNoLiquidityToDistribute) {
			log.Printf("[INFO] treasury distribution skipped: %v", err)
			return
		}
		log.Printf("[ERROR] treasury distribution: %v", err)
		return
	}
	if len(shares) > 0 {
		log.Printf("[INFO] treasury distribution done: entities=%d", len(shares))
	}
}
