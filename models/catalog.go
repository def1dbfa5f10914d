// Package models defines the catalog records shared by the scraper, store and matcher.
package models

import (
	"strings"
	"time"
)

// Category identifies a listing category on a storefront.
type Category string

const (
	CategoryCPU         Category = "cpu"
	CategoryGPU         Category = "gpu"
	CategoryRAM         Category = "ram"
	CategoryStorage     Category = "storage"
	CategoryMotherboard Category = "motherboard"
	CategoryPSU         Category = "psu"
	CategoryCooling     Category = "cooling"
	CategoryCase        Category = "case"
	CategoryBuild       Category = "build"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryCPU,
	CategoryGPU,
	CategoryRAM,
	CategoryStorage,
	CategoryMotherboard,
	CategoryPSU,
	CategoryCooling,
	CategoryCase,
	CategoryBuild,
}

var categoryAliases = map[string]Category{
	"processor":    CategoryCPU,
	"processors":   CategoryCPU,
	"videocard":    CategoryGPU,
	"videocards":   CategoryGPU,
	"memory":       CategoryRAM,
	"ssd":          CategoryStorage,
	"hdd":          CategoryStorage,
	"mainboard":    CategoryMotherboard,
	"motherboards": CategoryMotherboard,
	"power":        CategoryPSU,
	"cooler":       CategoryCooling,
	"cases":        CategoryCase,
	"pc":           CategoryBuild,
	"builds":       CategoryBuild,
}

// ParseCategory resolves a category name or alias. The second result is
// false for unknown names.
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	if c, ok := categoryAliases[s]; ok {
		return c, true
	}
	return "", false
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Purpose is the intended use of a build. The empty value means any.
type Purpose string

const (
	PurposeAny    Purpose = ""
	PurposeWork   Purpose = "work"
	PurposeGaming Purpose = "gaming"
	PurposeCustom Purpose = "custom"
)

// ParsePurpose normalises a purpose string. Unknown values map to PurposeAny
// with ok=false.
func ParsePurpose(s string) (Purpose, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return PurposeAny, true
	case "work", "office":
		return PurposeWork, true
	case "gaming", "game":
		return PurposeGaming, true
	case "custom":
		return PurposeCustom, true
	default:
		return PurposeAny, false
	}
}

// Source identifies a storefront.
type Source string

// Build types known to the bot layer.
const (
	TypePC     = "pc"
	TypeLaptop = "laptop"
)

// CatalogItem is a single scraped offer.
type CatalogItem struct {
	Title    string    `csv:"title" json:"title"`
	Price    int       `csv:"price" json:"price"`
	URL      string    `csv:"url" json:"url"`
	Source   Source    `csv:"source" json:"source"`
	Category Category  `csv:"category" json:"category"`
	Purpose  Purpose   `csv:"purpose" json:"purpose,omitempty"`
	ParsedAt time.Time `csv:"parsed_at" json:"parsed_at"`
}

// MatchPrice implements matcher.Entry.
func (i *CatalogItem) MatchPrice() int { return i.Price }

// MatchType implements matcher.Entry.
func (i *CatalogItem) MatchType() string { return string(i.Category) }

// MatchPurpose implements matcher.Entry.
func (i *CatalogItem) MatchPurpose() Purpose { return i.Purpose }

// Build is a complete computer configuration.
type Build struct {
	Title      string        `json:"title"`
	Components []CatalogItem `json:"components,omitempty"`
	TotalPrice int           `json:"total_price"`
	URL        string        `json:"url"`
	Source     Source        `json:"source"`
	Type       string        `json:"type"`
	Purpose    Purpose       `json:"purpose,omitempty"`
	ParsedAt   time.Time     `json:"parsed_at"`
}

// NewBuild assembles a build from components; TotalPrice is their sum.
func NewBuild(title, url string, source Source, buildType string, purpose Purpose, components []CatalogItem) *Build {
	total := 0
	for _, c := range components {
		total += c.Price
	}
	copied := make([]CatalogItem, len(components))
	copy(copied, components)
	if buildType == "" {
		buildType = TypePC
	}
	return &Build{
		Title:      title,
		Components: copied,
		TotalPrice: total,
		URL:        url,
		Source:     source,
		Type:       buildType,
		Purpose:    purpose,
		ParsedAt:   time.Now(),
	}
}

// BuildFromItem turns a scraped ready-made build listing into a Build. The
// storefront does not expose the component breakdown, so the listing price
// becomes the total. An empty buildType means TypePC.
func BuildFromItem(item CatalogItem, buildType string) Build {
	if buildType == "" {
		buildType = TypePC
	}
	return Build{
		Title:      item.Title,
		TotalPrice: item.Price,
		URL:        item.URL,
		Source:     item.Source,
		Type:       buildType,
		Purpose:    item.Purpose,
		ParsedAt:   item.ParsedAt,
	}
}

// MatchPrice implements matcher.Entry.
func (b *Build) MatchPrice() int { return b.TotalPrice }

// MatchType implements matcher.Entry.
func (b *Build) MatchType() string { return b.Type }

// MatchPurpose implements matcher.Entry.
func (b *Build) MatchPurpose() Purpose { return b.Purpose }

// Snapshot is the serialised catalog.
type Snapshot struct {
	LastUpdate time.Time     `json:"lastUpdate"`
	Items      []CatalogItem `json:"items"`
	Builds     []Build       `json:"builds"`
}

// Len returns the number of records held by the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items) + len(s.Builds)
}

// RefreshResult summarises one refresh cycle.
type RefreshResult struct {
	StartTime      time.Time
	EndTime        time.Time
	ScrapedCount   int
	PreviousCount  int
	Committed      bool
	ItemsBySource  map[Source]int
	ErrorCount     int
	ErrorsByType   map[string]int
	FailedAdapters []string
	RetryCount     int
}
