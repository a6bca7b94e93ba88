// internal/loyalty/family.go
package loyalty

import (
	"sort"
	"strings"
)

// FamilyOrder is the fixed display order of the known family members.
// Anyone else sorts after them, alphabetically.
var FamilyOrder = []string{"Osvandré", "Marilise", "Graciela", "Leonardo"}

func familyRank(name string) int {
	for i, n := range FamilyOrder {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return len(FamilyOrder)
}

// SortMembers sorts members in family order.
func SortMembers(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		ri, rj := familyRank(members[i].Name), familyRank(members[j].Name)
		if ri != rj {
			return ri < rj
		}
		return members[i].Name < members[j].Name
	})
}
