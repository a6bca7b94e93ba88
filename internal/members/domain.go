// internal/members/domain.go
package members

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"familymiles/internal/loyalty"
)

var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrDuplicateMember = errors.New("member name already exists")
	ErrInvalidMember   = errors.New("invalid member")
	ErrNotEnrolled     = errors.New("member is not enrolled in this program")
	ErrAlreadyEnrolled = errors.New("member is already enrolled in this program")
	ErrProgramFull     = errors.New("program has reached its member limit")
	ErrVersionConflict = errors.New("program record changed since it was read")
)

// AnyVersion disables the optimistic concurrency check on updates.
const AnyVersion = -1

// RecentWindow is the period counted as recent activity in Stats.
const RecentWindow = 24 * time.Hour

// CreateResult acknowledges a member creation or deletion.
type CreateResult struct {
	Message    string `json:"message"`
	MemberID   string `json:"member_id"`
	MemberName string `json:"member_name"`
}

// UpdateResult is returned by program updates. Changes is empty when the
// request matched the stored record.
type UpdateResult struct {
	Message string                `json:"message"`
	Changes loyalty.Changes       `json:"changes"`
	Record  loyalty.ProgramRecord `json:"record"`
}

// membershipEntry builds a log row for a membership-level transition.
func membershipEntry(member loyalty.Member, company loyalty.Company, field, oldValue, newValue, changeType string, at time.Time) loyalty.LogEntry {
	return loyalty.LogEntry{
		ID:           uuid.NewString(),
		MemberID:     member.ID,
		MemberName:   member.Name,
		CompanyID:    company.ID,
		CompanyName:  company.Name,
		FieldChanged: field,
		OldValue:     oldValue,
		NewValue:     newValue,
		ChangeType:   changeType,
		Timestamp:    at,
	}
}
