// internal/report/report.go
package report

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"familymiles/internal/httpjson"
	"familymiles/internal/loyalty"
)

// Summary lists every member with each enrolled program, followed by
// per-company totals. Members appear in family order and programs in
// company order.
func Summary(members []loyalty.Member, companies []loyalty.Company, at time.Time) string {
	sorted := append([]loyalty.Member(nil), members...)
	loyalty.SortMembers(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "Resumo de milhas - %s\n", at.Format("02/01/2006 15:04"))

	totals := make(map[string]int64, len(companies))
	for _, m := range sorted {
		fmt.Fprintf(&b, "\n%s\n", m.Name)
		enrolled := 0
		for _, c := range companies {
			rec, ok := m.Program(c.ID)
			if !ok {
				continue
			}
			enrolled++
			totals[c.ID] += rec.CurrentBalance
			fmt.Fprintf(&b, "  %s: %s %s", c.Name, loyalty.FormatNumber(rec.CurrentBalance), pointsName(c))
			if rec.EliteTier != "" {
				fmt.Fprintf(&b, " | %s: %s", loyalty.FieldEliteTier.Label(), rec.EliteTier)
			}
			if rec.CardNumber != "" {
				fmt.Fprintf(&b, " | %s: %s", loyalty.FieldCardNumber.Label(), rec.CardNumber)
			}
			b.WriteString("\n")
		}
		if enrolled == 0 {
			b.WriteString("  (sem programas)\n")
		}
	}

	b.WriteString("\nTotais\n")
	var grand int64
	for _, c := range companies {
		grand += totals[c.ID]
		fmt.Fprintf(&b, "  %s: %s %s\n", c.Name, loyalty.FormatNumber(totals[c.ID]), pointsName(c))
	}
	fmt.Fprintf(&b, "  Total geral: %s\n", loyalty.FormatNumber(grand))
	return b.String()
}

func pointsName(c loyalty.Company) string {
	if c.PointsName == "" {
		return "pontos"
	}
	return c.PointsName
}

// MemberLister and CompanyLister are satisfied by the members and
// companies services.
type MemberLister interface {
	List(ctx context.Context) ([]loyalty.Member, error)
}

type CompanyLister interface {
	List(ctx context.Context) ([]loyalty.Company, error)
}

type Handler struct {
	members   MemberLister
	companies CompanyLister
	now       func() time.Time
}

func NewHandler(members MemberLister, companies CompanyLister) *Handler {
	return &Handler{members: members, companies: companies, now: time.Now}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/export/summary", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.List(r.Context())
	if err != nil {
		httpjson.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	companies, err := h.companies.List(r.Context())
	if err != nil {
		httpjson.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Summary(members, companies, h.now())))
}
