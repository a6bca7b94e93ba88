// internal/members/service.go
package members

import (
	"context"

	"familymiles/internal/loyalty"
)

// Service defines the interface for members, their program records and the
// audit log.
type Service interface {
	List(ctx context.Context) ([]loyalty.Member, error)
	Get(ctx context.Context, id string) (loyalty.Member, error)
	Create(ctx context.Context, name string) (loyalty.Member, error)
	Delete(ctx context.Context, id string) (loyalty.Member, error)

	Enroll(ctx context.Context, key loyalty.Key) (loyalty.ProgramRecord, error)
	Unenroll(ctx context.Context, key loyalty.Key) error
	UpdateProgram(ctx context.Context, key loyalty.Key, patch loyalty.Patch, baseVersion int) (UpdateResult, error)
	UpdateCustomFields(ctx context.Context, key loyalty.Key, fields map[string]string, baseVersion int) (UpdateResult, error)

	GlobalLog(ctx context.Context) ([]loyalty.LogEntry, error)
	MemberLog(ctx context.Context, id string) ([]loyalty.LogEntry, error)
	Stats(ctx context.Context) (loyalty.DashboardStats, error)
	CountEnrolled(ctx context.Context, companyID string) (int, error)
}

// CompanyLookup resolves companies for enrollment and log denormalisation.
type CompanyLookup interface {
	List(ctx context.Context) ([]loyalty.Company, error)
	Get(ctx context.Context, id string) (loyalty.Company, error)
}
