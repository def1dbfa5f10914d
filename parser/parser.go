package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-build-finder/models"
)

// ErrUnparsablePrice is returned by ParsePrice when the text has no usable digits.
var ErrUnparsablePrice = errors.New("parser: unparsable price")

// ValidateItem ensures the scraper captured the required fields.
func ValidateItem(item *models.CatalogItem) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("item missing title")
	}
	if strings.TrimSpace(item.URL) == "" {
		return fmt.Errorf("item missing url for %s", item.Title)
	}
	if item.Price < 0 {
		return fmt.Errorf("item has negative price for %s", item.Title)
	}
	if !item.Category.Valid() {
		return fmt.Errorf("item has unknown category %q", item.Category)
	}
	if item.Source == "" {
		return fmt.Errorf("item missing source for %s", item.Title)
	}
	return nil
}

// ValidateBuild applies the item rules to a build listing. Type must be a
// known build type.
func ValidateBuild(build *models.Build) error {
	if build == nil {
		return fmt.Errorf("build is nil")
	}
	if strings.TrimSpace(build.Title) == "" {
		return fmt.Errorf("build missing title")
	}
	if strings.TrimSpace(build.URL) == "" {
		return fmt.Errorf("build missing url for %s", build.Title)
	}
	if build.TotalPrice < 0 {
		return fmt.Errorf("build has negative price for %s", build.Title)
	}
	if build.Type != models.TypePC && build.Type != models.TypeLaptop {
		return fmt.Errorf("build has unknown type %q", build.Type)
	}
	if build.Source == "" {
		return fmt.Errorf("build missing source for %s", build.Title)
	}
	return nil
}

// NormalizePrice keeps only the ASCII digits of text and parses them as a
// base-10 integer. Text without digits, or digits that overflow an int, yield 0.
// It never fails; callers that must tell "free" from "garbage" use ParsePrice.
func NormalizePrice(text string) int {
	n, err := ParsePrice(text)
	if err != nil {
		return 0
	}
	return n
}

// ParsePrice is the strict form of NormalizePrice.
func ParsePrice(text string) (int, error) {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		if c := text[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return 0, ErrUnparsablePrice
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsablePrice, text)
	}
	return n, nil
}

// NormalizeTitle collapses runs of whitespace in listing titles.
func NormalizeTitle(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

var (
	gamingKeywords = []string{"игров", "gaming", "gamer", "rtx", "radeon rx", "geforce"}
	workKeywords   = []string{"офис", "office", "рабоч", "work", "home", "домашн"}
)

// InferPurpose guesses the purpose of a build from its title and falls back
// to fallback when no keyword matches.
func InferPurpose(title string, fallback models.Purpose) models.Purpose {
	lower := strings.ToLower(title)
	for _, kw := range gamingKeywords {
		if strings.Contains(lower, kw) {
			return models.PurposeGaming
		}
	}
	for _, kw := range workKeywords {
		if strings.Contains(lower, kw) {
			return models.PurposeWork
		}
	}
	return fallback
}

// Tier is a named price bracket shown by the bot layer.
type Tier struct {
	Name string
	Min  int
	Max  int // exclusive; 0 means unbounded
}

// Tiers are the price brackets used to group offers.
var Tiers = []Tier{
	{Name: "budget", Min: 0, Max: 40000},
	{Name: "mid", Min: 40000, Max: 80000},
	{Name: "premium", Min: 80000, Max: 0},
}

// PriceTier returns the bracket containing price.
func PriceTier(price int) Tier {
	for _, t := range Tiers {
		if price >= t.Min && (t.Max == 0 || price < t.Max) {
			return t
		}
	}
	return Tiers[0]
}
