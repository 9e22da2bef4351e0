package query

import (
	"math"
	"strings"

	"product-management/internal/domain"
)

// DefaultPageSize is the number of products per listing page.
const DefaultPageSize = 3

// Sort orders accepted from the caller.
const (
	SortNameAsc      = ""
	SortNameDesc     = "name_desc"
	SortCategoryAsc  = "category"
	SortCategoryDesc = "ctgr_desc"
	SortPriceAsc     = "price"
	SortPriceDesc    = "price_desc"
)

// SearchField names the product attribute a search string is matched against.
type SearchField string

const (
	SearchByName        SearchField = "name"
	SearchByCategory    SearchField = "category"
	SearchByDescription SearchField = "description"
)

// OrderKey is the attribute results are ordered by.
type OrderKey string

const (
	OrderByName         OrderKey = "name"
	OrderByCategoryName OrderKey = "category_name"
	OrderByPrice        OrderKey = "price"
)

// Direction is the sort direction
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Params are the raw listing parameters as received from the caller.
type Params struct {
	SortOrder     string
	SearchString  string
	SearchBy      string
	Page          int
	CurrentFilter string
}

// Predicate is a substring match on one product attribute.
type Predicate struct {
	Field           SearchField
	Term            string
	CaseInsensitive bool
}

// Spec is the canonical, executable description of a listing query.
type Spec struct {
	Predicate       *Predicate
	OrderKey        OrderKey
	OrderDirection  Direction
	PageNumber      int
	PageSize        int
	IncludeCategory bool
}

// Offset returns the number of rows to skip for the page. It saturates at
// math.MaxInt instead of overflowing.
func (s Spec) Offset() int {
	if s.PageNumber <= 1 || s.PageSize <= 0 {
		return 0
	}
	if s.PageNumber-1 > math.MaxInt/s.PageSize {
		return math.MaxInt
	}
	return (s.PageNumber - 1) * s.PageSize
}

// Result is the output of Build: the spec plus the navigation state the caller
// should echo back on its next request.
type Result struct {
	Spec          Spec
	CurrentFilter string
	CurrentSort   string
	SearchBy      SearchField

	// Next sort parameters for the name, category and price column headers.
	NameSortParam     string
	CategorySortParam string
	PriceSortParam    string
}

// Build translates listing parameters into a query spec. A new search string
// filters and resets the page to 1; otherwise the previous filter is reapplied
// and the requested page kept.
func Build(p Params, pageSize int) Result {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	// Pages past the last addressable row are clamped so the offset fits an int
	page := p.Page
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt / pageSize; page > maxPage {
		page = maxPage
	}

	field := parseSearchField(p.SearchBy)

	filter := p.SearchString
	if filter != "" {
		page = 1
	} else {
		filter = p.CurrentFilter
	}

	spec := Spec{
		PageNumber:      page,
		PageSize:        pageSize,
		IncludeCategory: true,
	}
	if filter != "" {
		spec.Predicate = &Predicate{
			Field:           field,
			Term:            filter,
			CaseInsensitive: field == SearchByDescription,
		}
	}
	spec.OrderKey, spec.OrderDirection = parseSortOrder(p.SortOrder)

	return Result{
		Spec:              spec,
		CurrentFilter:     filter,
		CurrentSort:       p.SortOrder,
		SearchBy:          field,
		NameSortParam:     toggle(p.SortOrder == SortNameAsc, SortNameDesc, SortNameAsc),
		CategorySortParam: toggle(p.SortOrder == SortCategoryAsc, SortCategoryDesc, SortCategoryAsc),
		PriceSortParam:    toggle(p.SortOrder == SortPriceAsc, SortPriceDesc, SortPriceAsc),
	}
}

func parseSearchField(s string) SearchField {
	switch SearchField(s) {
	case SearchByCategory:
		return SearchByCategory
	case SearchByDescription:
		return SearchByDescription
	default:
		return SearchByName
	}
}

func parseSortOrder(s string) (OrderKey, Direction) {
	switch s {
	case SortNameDesc:
		return OrderByName, Desc
	case SortCategoryAsc:
		return OrderByCategoryName, Asc
	case SortCategoryDesc:
		return OrderByCategoryName, Desc
	case SortPriceAsc:
		return OrderByPrice, Asc
	case SortPriceDesc:
		return OrderByPrice, Desc
	default:
		return OrderByName, Asc
	}
}

func toggle(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

// Matches reports whether p satisfies the predicate. A nil predicate matches
// everything. Category matching needs p.Category to be resolved.
func (pr *Predicate) Matches(p *domain.Product) bool {
	if pr == nil {
		return true
	}
	var value string
	switch pr.Field {
	case SearchByCategory:
		if p.Category == nil {
			return false
		}
		value = p.Category.Name
	case SearchByDescription:
		value = p.ShortDescription
	default:
		value = p.Name
	}
	if pr.CaseInsensitive {
		return strings.Contains(strings.ToLower(value), strings.ToLower(pr.Term))
	}
	return strings.Contains(value, pr.Term)
}

// Less reports whether a sorts before b under the spec's ordering. Ties are
// broken by ascending id so that paging is stable.
func (s Spec) Less(a, b *domain.Product) bool {
	var c int
	switch s.OrderKey {
	case OrderByCategoryName:
		c = strings.Compare(categoryName(a), categoryName(b))
	case OrderByPrice:
		c = a.Price.Cmp(b.Price)
	default:
		c = strings.Compare(a.Name, b.Name)
	}
	if s.OrderDirection == Desc {
		c = -c
	}
	if c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func categoryName(p *domain.Product) string {
	if p.Category == nil {
		return ""
	}
	return p.Category.Name
}
