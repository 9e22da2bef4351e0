package query

// PageResult is one page of a listing plus what is needed to render pagination.
type PageResult[T any] struct {
	Items       []T  `json:"items"`
	PageNumber  int  `json:"pageNumber"`
	PageSize    int  `json:"pageSize"`
	TotalItems  int  `json:"totalItems"`
	PageCount   int  `json:"pageCount"`
	HasPrevious bool `json:"hasPreviousPage"`
	HasNext     bool `json:"hasNextPage"`
}

// NewPageResult builds the page metadata for items fetched with spec.
func NewPageResult[T any](items []T, total int, spec Spec) *PageResult[T] {
	if items == nil {
		items = []T{}
	}
	pageCount := 0
	if spec.PageSize > 0 {
		pageCount = (total + spec.PageSize - 1) / spec.PageSize
	}
	return &PageResult[T]{
		Items:       items,
		PageNumber:  spec.PageNumber,
		PageSize:    spec.PageSize,
		TotalItems:  total,
		PageCount:   pageCount,
		HasPrevious: spec.PageNumber > 1,
		HasNext:     spec.PageNumber < pageCount,
	}
}
