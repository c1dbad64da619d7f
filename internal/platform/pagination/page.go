// Package pagination normalizes 1-based page parameters.
package pagination

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size defaults and limits.
type PageSizeConfig struct {
	Default int
	Max     int
}

// Paging is a validated 1-based page request.
type Paging struct {
	Page     int
	PageSize int
}

// Offset returns the number of items before the page.
func (p Paging) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	if p.PageSize > 0 && p.Page-1 > math.MaxInt/p.PageSize {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PageSize
}

// Window slices total items into the bounds [start, end) for this page.
func (p Paging) Window(total int) (int, int) {
	start := p.Offset()
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if p.PageSize >= 0 && p.PageSize < total-start {
		end = start + p.PageSize
	}
	if p.PageSize < 0 {
		end = start
	}
	return start, end
}

// Parse validates raw p and ps parameters. Empty values take defaults; a page
// size above the limit is rejected rather than clamped.
func Parse(rawPage, rawPageSize string, cfg PageSizeConfig) (Paging, error) {
	paging := Paging{Page: 1, PageSize: cfg.Default}
	if paging.PageSize <= 0 {
		paging.PageSize = 100
	}
	if value := strings.TrimSpace(rawPage); value != "" {
		page, err := strconv.Atoi(value)
		if err != nil {
			return Paging{}, fmt.Errorf("'%s' is not a valid integer", value)
		}
		if page < 1 {
			return Paging{}, fmt.Errorf("'p' value (%d) must be greater than 0", page)
		}
		paging.Page = page
	}
	if value := strings.TrimSpace(rawPageSize); value != "" {
		size, err := strconv.Atoi(value)
		if err != nil {
			return Paging{}, fmt.Errorf("'%s' is not a valid integer", value)
		}
		if size < 1 {
			return Paging{}, fmt.Errorf("'ps' value (%d) must be greater than 0", size)
		}
		if cfg.Max > 0 && size > cfg.Max {
			return Paging{}, fmt.Errorf("'ps' value (%d) must be less than %d", size, cfg.Max)
		}
		paging.PageSize = size
	}
	if paging.Page-1 > math.MaxInt/paging.PageSize {
		return Paging{}, fmt.Errorf("'p' value (%d) is too large for a page size of %d", paging.Page, paging.PageSize)
	}
	return paging, nil
}

// ClampPageSize applies defaults and limits without failing.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}
