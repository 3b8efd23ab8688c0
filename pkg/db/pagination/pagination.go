package pagination

const (
	DefaultLimit = 50
	MaxLimit     = 250
)

type Pagination struct {
	Limit  int `form:"limit,default=50" json:"limit" validate:"omitempty,gte=1,lte=250"`
	Offset int `form:"offset" json:"offset" validate:"omitempty,gte=0"`
}

// Normalize clamps the limit into [1, MaxLimit] and the offset to >= 0.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type PageInfo struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func BuildPageInfo(p Pagination, total int64) PageInfo {
	p = p.Normalize()
	return PageInfo{Total: total, Limit: p.Limit, Offset: p.Offset}
}
