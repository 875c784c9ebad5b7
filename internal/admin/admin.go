// Package admin hosts workspace administration operations, currently the
// user data-deletion coordinator.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/korahq/kora/pkg/store"
)

// allServices is the deletion scope when the caller names none.
var allServices = []string{
	string(store.AppGmail),
	string(store.AppDrive),
	string(store.AppCalendar),
	string(store.AppContacts),
	string(store.AppSlack),
	string(store.AppSharepoint),
}

// DeleteUserDataParams scopes a deletion request.
type DeleteUserDataParams struct {
	EmailToClear    string   `json:"emailToClear"`
	ServicesToClear []string `json:"servicesToClear,omitempty"`
	DeleteSyncJob   bool     `json:"deleteSyncJob"`
}

// ServiceResult is the outcome of clearing one service.
type ServiceResult struct {
	Service          string `json:"service"`
	DocumentsDeleted int    `json:"documentsDeleted"`
	JobsDeleted      int    `json:"jobsDeleted"`
	Error            string `json:"error,omitempty"`
}

// DeleteUserDataResult summarizes a full deletion run.
type DeleteUserDataResult struct {
	Email    string          `json:"email"`
	Services []ServiceResult `json:"services"`
}

// Failed reports whether any service recorded an error.
func (r DeleteUserDataResult) Failed() bool {
	for _, s := range r.Services {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Coordinator runs user data deletions across the content index and the
// job queue.
type Coordinator struct {
	content store.ContentStore
	jobs    store.JobStore
	log     *slog.Logger
}

// New builds a Coordinator.
func New(content store.ContentStore, jobs store.JobStore, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{content: content, jobs: jobs, log: log}
}

// DeleteUserData clears the user's indexed content for each requested
// service, then optionally drops queued sync jobs for the same scope.
// Every service is attempted; a failing one is recorded and the run
// continues. The operation is idempotent: re-running it deletes nothing
// further and reports zero counts.
func (c *Coordinator) DeleteUserData(ctx context.Context, p DeleteUserDataParams) (DeleteUserDataResult, error) {
	if p.EmailToClear == "" {
		return DeleteUserDataResult{}, fmt.Errorf("admin: emailToClear is required")
	}
	services := p.ServicesToClear
	if len(services) == 0 {
		services = allServices
	}

	result := DeleteUserDataResult{Email: p.EmailToClear}
	for _, service := range services {
		sr := ServiceResult{Service: service}

		deleted, err := c.content.DeleteForOwner(ctx, p.EmailToClear, []string{service})
		if err != nil {
			sr.Error = err.Error()
			c.log.ErrorContext(ctx, "content deletion failed",
				slog.String("email", p.EmailToClear),
				slog.String("service", service),
				slog.Any("error", err))
			result.Services = append(result.Services, sr)
			continue
		}
		sr.DocumentsDeleted = deleted

		if p.DeleteSyncJob {
			jobs, err := c.jobs.DeleteQueuedForOwner(ctx, p.EmailToClear, []string{service})
			if err != nil {
				// Content is already gone for this service; record the job
				// failure and keep going.
				sr.Error = err.Error()
				c.log.ErrorContext(ctx, "queued job deletion failed",
					slog.String("email", p.EmailToClear),
					slog.String("service", service),
					slog.Any("error", err))
			} else {
				sr.JobsDeleted = jobs
			}
		}
		result.Services = append(result.Services, sr)
	}

	c.log.InfoContext(ctx, "user data deletion finished",
		slog.String("email", p.EmailToClear),
		slog.Int("services", len(services)),
		slog.Bool("failed", result.Failed()))
	return result, nil
}
