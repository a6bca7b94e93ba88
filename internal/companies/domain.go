// internal/companies/domain.go
package companies

import (
	"errors"
	"regexp"

	"familymiles/internal/loyalty"
)

var (
	ErrCompanyNotFound  = errors.New("company not found")
	ErrDuplicateCompany = errors.New("company already exists")
	ErrCompanyInUse     = errors.New("company still has enrolled members")
	ErrInvalidCompany   = errors.New("invalid company")
)

// Defaults applied when a create request leaves them out.
const (
	DefaultColor      = "#4b5563"
	DefaultPointsName = "pontos"
	DefaultMaxMembers = 4
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,39}$`)

// DefaultCompanies are created on first start when the store is empty.
var DefaultCompanies = []loyalty.Company{
	{ID: "latam", Name: "LATAM Pass", Color: "#d31b2c", PointsName: "milhas", MaxMembers: 4},
	{ID: "smiles", Name: "Smiles", Color: "#ff6600", PointsName: "milhas", MaxMembers: 4},
	{ID: "azul", Name: "TudoAzul", Color: "#0072ce", PointsName: "pontos", MaxMembers: 4},
}

// CreateRequest is the payload accepted by Create. ID is optional.
type CreateRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	Logo       string `json:"logo,omitempty"`
	PointsName string `json:"points_name,omitempty"`
	MaxMembers int    `json:"max_members,omitempty"`
}
