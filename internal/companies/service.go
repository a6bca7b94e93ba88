// internal/companies/service.go
package companies

import (
	"context"

	"familymiles/internal/loyalty"
)

// Service defines the interface for the company catalogue.
type Service interface {
	List(ctx context.Context) ([]loyalty.Company, error)
	Get(ctx context.Context, id string) (loyalty.Company, error)
	Create(ctx context.Context, req CreateRequest) (loyalty.Company, error)
	Rename(ctx context.Context, id, name string) (loyalty.Company, error)
	Delete(ctx context.Context, id string) error
	EnsureDefaults(ctx context.Context, defaults []loyalty.Company) error
}

// EnrollmentCounter reports how many members are enrolled in a company.
type EnrollmentCounter interface {
	CountEnrolled(ctx context.Context, companyID string) (int, error)
}
