package persistence

import (
	"strings"

	"gorm.io/gorm/clause"
)

// sortColumns is the set of columns a list query may be ordered by. Anything
// outside it falls back so caller input never reaches the ORDER BY verbatim.
type sortColumns map[string]struct{}

func newSortColumns(names ...string) sortColumns {
	s := make(sortColumns, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

var opportunitySortColumns = newSortColumns(
	"id", "created_at", "updated_at", "solicitation_number", "title", "status", "last_run_at",
)

// orderBy resolves a requested column and direction. Unknown columns become
// fallback; any direction other than asc is descending.
func (s sortColumns) orderBy(column, direction, fallback string) clause.OrderByColumn {
	column = strings.TrimSpace(column)
	if _, ok := s[column]; !ok {
		column = fallback
	}
	return clause.OrderByColumn{
		Column: clause.Column{Name: column},
		Desc:   !strings.EqualFold(strings.TrimSpace(direction), "asc"),
	}
}
