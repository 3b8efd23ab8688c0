package option

import (
	"fmt"
	"strings"

	"clientops-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed by a repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ    Operator = "="
	NEQ   Operator = "<>"
	GT    Operator = ">"
	GTE   Operator = ">="
	LT    Operator = "<"
	LTE   Operator = "<="
	IN    Operator = "IN"
	NOTIN Operator = "NOT IN"
	LIKE  Operator = "LIKE"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// ApplyOperator adds WHERE clauses for each condition. Field names are
// quoted with the dialect's identifier quoting.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			op := c.Operator
			if op == "" {
				op = EQ
			}
			switch op {
			case IN, NOTIN:
				db = db.Where(fmt.Sprintf("%s %s (?)", db.Statement.Quote(c.Field), op), c.Value)
			default:
				db = db.Where(fmt.Sprintf("%s %s ?", db.Statement.Quote(c.Field), op), c.Value)
			}
		}
		return db
	}
}

// WithSortBy orders by SortBy when it is allow-listed, falling back to
// created_at.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}
		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = pagination.DefaultLimit
		}
		if limit > pagination.MaxLimit {
			limit = pagination.MaxLimit
		}
		db = db.Limit(limit)
		if p.Offset > 0 {
			db = db.Offset(p.Offset)
		}
		return db
	}
}

func WithPreload(associations ...string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, a := range associations {
			db = db.Preload(a)
		}
		return db
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate is usable both as a QueryOption and as a gorm scope.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
