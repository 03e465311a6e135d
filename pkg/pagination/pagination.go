package pagination

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
	// MaxPage keeps (page-1)*limit well inside int range.
	MaxPage = 100000
)

// Params holds validated paging and sorting parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
	Sort   string
	Order  string // "asc", "desc" or empty for the listing's default
}

// Parse extracts page, limit, sort and order from the query string.
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))

	p := Bound(page, limit)

	p.Order = strings.ToLower(c.Query("order"))
	if p.Order != "asc" && p.Order != "desc" {
		p.Order = ""
	}
	p.Sort = strings.TrimSpace(c.Query("sort"))
	return p
}

// Bound clamps page and limit into range and computes the offset.
func Bound(page, limit int) Params {
	if page < 1 {
		page = DefaultPage
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < MinLimit {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// OptionalUint reads a positive integer query parameter; anything else is treated as absent.
func OptionalUint(c *gin.Context, key string) *uint {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil || v == 0 {
		return nil
	}
	id := uint(v)
	return &id
}
