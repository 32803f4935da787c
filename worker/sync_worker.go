package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"leadsync/config"
	"leadsync/crm"
	"leadsync/models"
	"leadsync/utils"
)

// SyncWorker polls connected CRMs on a schedule and pulls new or changed
// leads into the platform, and at a longer interval resubmits leads whose
// outbound sync failed. One integration failing never stops the cycle for
// the others.
type SyncWorker struct {
	db       *gorm.DB
	inbound  *crm.InboundSync
	outbound *crm.OutboundSync
	resolver *crm.TenantResolver
	cron     *cron.Cron
	logger   *log.Logger
}

func NewSyncWorker(db *gorm.DB, inbound *crm.InboundSync, outbound *crm.OutboundSync, logger *log.Logger) *SyncWorker {
	return &SyncWorker{
		db:       db,
		inbound:  inbound,
		outbound: outbound,
		resolver: crm.NewTenantResolver(db),
		cron:     cron.New(),
		logger:   logger,
	}
}

func (w *SyncWorker) Start(ctx context.Context) {
	spec := fmt.Sprintf("@every %s", config.AppConfig.PollInterval)
	if _, err := w.cron.AddFunc(spec, func() { w.runCycle(ctx) }); err != nil {
		w.logger.Printf("Failed to schedule inbound sync: %v", err)
		return
	}
	w.cron.Start()
	w.logger.Printf("Inbound sync scheduled every %s", config.AppConfig.PollInterval)

	retryTicker := time.NewTicker(config.AppConfig.RetryInterval)
	defer retryTicker.Stop()

	for {
		select {
		case <-retryTicker.C:
			w.runRetryCycle(ctx)
		case <-ctx.Done():
			<-w.cron.Stop().Done()
			w.logger.Println("Sync worker stopped")
			return
		}
	}
}

// runCycle polls every integration that is active, has auto-sync on, and a
// direction that includes CRM→platform.
func (w *SyncWorker) runCycle(ctx context.Context) {
	var integrations []models.Integration
	err := w.db.Where("status = ? AND auto_sync_enabled = ? AND sync_direction <> ?",
		models.IntegrationStatusActive, true, models.SyncDirectionToCRM).
		Find(&integrations).Error
	if err != nil {
		w.logger.Printf("Failed to list integrations for polling: %v", err)
		return
	}

	for i := range integrations {
		integ := &integrations[i]
		tenant := w.resolver.Store(integ.CompanyID)

		result, err := w.inbound.SyncFromCRM(ctx, tenant, integ)
		if err != nil {
			w.logger.Printf("Inbound poll for company %d (%s) failed: %v", integ.CompanyID, integ.Provider, err)
			utils.LogError(err, "inbound_poll", map[string]interface{}{
				"company_id": integ.CompanyID,
				"provider":   integ.Provider,
			})
			continue
		}

		if result.Created+result.Updated+result.Failed > 0 {
			w.logger.Printf("Inbound poll for company %d (%s): %d created, %d updated, %d skipped, %d failed",
				integ.CompanyID, integ.Provider, result.Created, result.Updated, result.Skipped, result.Failed)
		}
	}
}

// runRetryCycle resubmits failed outbound syncs for every company with an
// active integration whose direction includes platform→CRM.
func (w *SyncWorker) runRetryCycle(ctx context.Context) {
	var integrations []models.Integration
	err := w.db.Where("status = ? AND auto_sync_enabled = ? AND sync_direction <> ?",
		models.IntegrationStatusActive, true, models.SyncDirectionFromCRM).
		Find(&integrations).Error
	if err != nil {
		w.logger.Printf("Failed to list integrations for retry: %v", err)
		return
	}

	for i := range integrations {
		integ := &integrations[i]

		var failed int64
		err := w.db.Model(&models.Lead{}).
			Where("company_id = ? AND crm_sync_status = ?", integ.CompanyID, models.CRMSyncStatusFailed).
			Count(&failed).Error
		if err != nil || failed == 0 {
			continue
		}

		result, err := w.outbound.RetryFailedSyncs(ctx, integ.CompanyID)
		if err != nil {
			w.logger.Printf("Outbound retry for company %d (%s) failed: %v", integ.CompanyID, integ.Provider, err)
			utils.LogError(err, "outbound_retry", map[string]interface{}{
				"company_id": integ.CompanyID,
				"provider":   integ.Provider,
			})
			continue
		}

		w.logger.Printf("Outbound retry for company %d (%s): %d recovered, %d still failing",
			integ.CompanyID, integ.Provider, len(result.Successful), len(result.Failed))
	}
}
