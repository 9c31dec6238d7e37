// Package utils provides small helpers shared by the transport layer. They
// carry no quote lifecycle logic.
package utils

import "strconv"

// AtoiDefault converts s with strconv.Atoi and returns def when s is empty
// or not an integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is a bounded 1-based page request.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads raw page and size values, falling back to page 1 and
// defSize, and clamps size to [1, maxSize].
func ParsePage(rawPage, rawSize string, defSize, maxSize int) Page {
	p := Page{
		Number: AtoiDefault(rawPage, 1),
		Size:   AtoiDefault(rawSize, defSize),
	}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages is the page count for total rows; zero rows means zero pages.
func (p Page) TotalPages(total int64) int {
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}
