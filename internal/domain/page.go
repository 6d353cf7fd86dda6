package domain

// Order selects the createdAt sort direction for message queries.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// PageOptions controls pagination and filtering of list queries.
type PageOptions struct {
	Limit       int   `json:"limit" query:"limit" validate:"gte=0,lte=200"`
	Offset      int   `json:"offset" query:"offset" validate:"gte=0"`
	Order       Order `json:"order" query:"order" validate:"omitempty,oneof=asc desc"`
	VisibleOnly bool  `json:"visibleOnly" query:"visibleOnly"`
}

// Normalize fills defaults and clamps out-of-range values.
func (o PageOptions) Normalize() PageOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Order != OrderDesc {
		o.Order = OrderAsc
	}
	return o
}

// Page is one slice of a list query.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// NewPage builds a page for items already cut to opts.
func NewPage[T any](items []T, total int, opts PageOptions) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:   items,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(items) < total,
	}
}

// Paginate cuts an already ordered slice to opts.
func Paginate[T any](all []T, opts PageOptions) Page[T] {
	total := len(all)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)
	out := make([]T, end-start)
	copy(out, all[start:end])
	return NewPage(out, total, opts)
}
