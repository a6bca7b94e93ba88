// internal/loyalty/domain.go
package loyalty

import (
	"time"
)

// Key identifies one member's record in one loyalty program.
type Key struct {
	MemberID  string `json:"member_id"`
	CompanyID string `json:"company_id"`
}

func (k Key) String() string {
	return k.MemberID + "/" + k.CompanyID
}

// Company represents a loyalty program (airline, hotel, ...).
type Company struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	Logo       string `json:"logo,omitempty"`
	PointsName string `json:"points_name"`
	MaxMembers int    `json:"max_members,omitempty"`
}

// Member is a family member. Programs is keyed by company ID; a missing key
// means the member is not enrolled in that company.
type Member struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	Programs  map[string]ProgramRecord `json:"programs"`
	CreatedAt time.Time                `json:"created_at"`
}

// Program returns the record for companyID and whether the member is enrolled.
func (m Member) Program(companyID string) (ProgramRecord, bool) {
	rec, ok := m.Programs[companyID]
	if !ok {
		return ProgramRecord{}, false
	}
	return rec.Clone(), true
}

// ProgramRecord holds a member's account data for one company.
type ProgramRecord struct {
	Login          string            `json:"login"`
	Password       string            `json:"password"`
	CPF            string            `json:"cpf"`
	CardNumber     string            `json:"card_number"`
	CurrentBalance int64             `json:"current_balance"`
	EliteTier      string            `json:"elite_tier"`
	Notes          string            `json:"notes"`
	LastUpdated    time.Time         `json:"last_updated"`
	LastChange     string            `json:"last_change"`
	CustomFields   map[string]string `json:"custom_fields"`
	Version        int               `json:"version"`
}

// Clone returns a deep copy of the record.
func (r ProgramRecord) Clone() ProgramRecord {
	out := r
	if r.CustomFields != nil {
		out.CustomFields = make(map[string]string, len(r.CustomFields))
		for k, v := range r.CustomFields {
			out.CustomFields[k] = v
		}
	}
	return out
}

// Change types recorded on log entries.
const (
	ChangeUpdate = "update"
	ChangeCreate = "create"
	ChangeDelete = "delete"
)

// Field labels and values used for membership-level log entries.
const (
	FieldMember  = "membro"
	FieldProgram = "programa"

	ValueCreated  = "criado"
	ValueActive   = "ativo"
	ValueDeleted  = "deletado"
	ValueEnrolled = "inscrito"
	ValueRemoved  = "removido"
)

// LogEntry is one immutable audit row recording a single field transition.
type LogEntry struct {
	ID           string    `json:"id"`
	MemberID     string    `json:"member_id"`
	MemberName   string    `json:"member_name"`
	CompanyID    string    `json:"company_id"`
	CompanyName  string    `json:"company_name"`
	FieldChanged string    `json:"field_changed"`
	OldValue     string    `json:"old_value"`
	NewValue     string    `json:"new_value"`
	ChangeType   string    `json:"change_type"`
	Timestamp    time.Time `json:"timestamp"`
}

// PostIt is a free-text note unrelated to members or programs.
type PostIt struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DashboardStats is the aggregate projection shown on the dashboard sidebar.
type DashboardStats struct {
	TotalMembers   int   `json:"total_members"`
	TotalCompanies int   `json:"total_companies"`
	TotalPoints    int64 `json:"total_points"`
	RecentActivity int   `json:"recent_activity"`
}
