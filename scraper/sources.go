package scraper

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-build-finder/models"
)

// Storefronts with built-in tables.
const (
	SourceDNS      models.Source = "dns"
	SourceCitilink models.Source = "citilink"
	SourceMVideo   models.Source = "mvideo"
)

// Selectors locate listing entries on a page. Link defaults to the href of
// the title element, then to the first anchor inside the entry.
type Selectors struct {
	Item  string `yaml:"item"`
	Title string `yaml:"title"`
	Price string `yaml:"price"`
	Link  string `yaml:"link,omitempty"`
	// Limit caps the entries taken per page; zero takes all.
	Limit int `yaml:"limit,omitempty"`
}

// SourceSpec describes one storefront: where each category is listed and how
// to read the listing.
type SourceSpec struct {
	Name       models.Source              `yaml:"name"`
	URLs       map[models.Category]string `yaml:"urls"`
	Components Selectors                  `yaml:"components"`
	Builds     Selectors                  `yaml:"builds"`
	// BuildType and BuildPurpose label build listings; purpose is refined
	// from the title when keywords match.
	BuildType    string         `yaml:"build_type,omitempty"`
	BuildPurpose models.Purpose `yaml:"build_purpose,omitempty"`
}

// Selectors returns the selectors used for category.
func (s SourceSpec) Selectors(category models.Category) Selectors {
	if category == models.CategoryBuild {
		return s.Builds
	}
	return s.Components
}

// Validate checks that every mapped category is known and has selectors.
func (s SourceSpec) Validate() error {
	if s.Name == "" {
		return errors.New("source name is required")
	}
	if len(s.URLs) == 0 {
		return fmt.Errorf("source %s: no category urls", s.Name)
	}
	for category, url := range s.URLs {
		if !category.Valid() {
			return fmt.Errorf("source %s: unknown category %q", s.Name, category)
		}
		if url == "" {
			return fmt.Errorf("source %s: empty url for %s", s.Name, category)
		}
		sel := s.Selectors(category)
		if sel.Item == "" || sel.Title == "" || sel.Price == "" {
			return fmt.Errorf("source %s: incomplete selectors for %s", s.Name, category)
		}
	}
	return nil
}

// DefaultSources returns the built-in DNS, Citilink and M.Video tables.
func DefaultSources() []SourceSpec {
	return []SourceSpec{
		{
			Name: SourceDNS,
			URLs: map[models.Category]string{
				models.CategoryCPU:         "https://www.dns-shop.ru/catalog/17a8a01cd1644e77/processory/",
				models.CategoryGPU:         "https://www.dns-shop.ru/catalog/17a897f20e332332/videokarty/",
				models.CategoryMotherboard: "https://www.dns-shop.ru/catalog/17a89aabdeec9e29/materinskie-platy/",
				models.CategoryRAM:         "https://www.dns-shop.ru/catalog/17a8a01cd1644e77/operativnaya-pamyat/",
				models.CategoryStorage:     "https://www.dns-shop.ru/catalog/17a8a01cd1644e77/ssd-nakopiteli/",
				models.CategoryBuild:       "https://www.dns-shop.ru/catalog/17a8a01d16404e77/sborki-pk/",
			},
			Components: Selectors{
				Item:  ".product-item",
				Title: ".product-item__title",
				Price: ".product-item__price",
				Limit: 10,
			},
			Builds: Selectors{
				Item:  ".catalog-product",
				Title: ".catalog-product__name",
				Price: ".product-buy__price",
			},
			BuildType:    models.TypePC,
			BuildPurpose: models.PurposeWork,
		},
		{
			Name: SourceCitilink,
			URLs: map[models.Category]string{
				models.CategoryCPU:         "https://www.citilink.ru/catalog/processory/",
				models.CategoryGPU:         "https://www.citilink.ru/catalog/videokarty/",
				models.CategoryMotherboard: "https://www.citilink.ru/catalog/materinskie-platy/",
				models.CategoryRAM:         "https://www.citilink.ru/catalog/operativnaya-pamyat/",
				models.CategoryStorage:     "https://www.citilink.ru/catalog/ssd-nakopiteli/",
				models.CategoryBuild:       "https://www.citilink.ru/catalog/sborki-pk/",
			},
			Components: Selectors{
				Item:  ".ProductCard",
				Title: ".ProductCard__name",
				Price: ".ProductCard__price",
				Limit: 10,
			},
			Builds: Selectors{
				Item:  ".ProductCardHorizontal",
				Title: ".ProductCardHorizontal__title",
				Price: ".ProductCardHorizontal__price",
			},
			BuildType:    models.TypePC,
			BuildPurpose: models.PurposeWork,
		},
		{
			Name: SourceMVideo,
			URLs: map[models.Category]string{
				models.CategoryCPU:         "https://www.mvideo.ru/kompyutery/komplektuyuschie/processory",
				models.CategoryGPU:         "https://www.mvideo.ru/kompyutery/komplektuyuschie/videokarty",
				models.CategoryMotherboard: "https://www.mvideo.ru/kompyutery/komplektuyuschie/materinskie-platy",
				models.CategoryRAM:         "https://www.mvideo.ru/kompyutery/komplektuyuschie/operativnaya-pamyat",
				models.CategoryStorage:     "https://www.mvideo.ru/kompyutery/komplektuyuschie/ssd-nakopiteli",
				models.CategoryBuild:       "https://www.mvideo.ru/kompyutery/sborki-pk",
			},
			Components: Selectors{
				Item:  ".product-tile",
				Title: ".product-title",
				Price: ".price",
				Limit: 10,
			},
			Builds: Selectors{
				Item:  ".product-grid__item",
				Title: ".product-title__text",
				Price: ".price__main-value",
			},
			BuildType:    models.TypePC,
			BuildPurpose: models.PurposeWork,
		},
	}
}

type sourcesFile struct {
	Sources []SourceSpec `yaml:"sources"`
}

// LoadSources reads source tables from a YAML file. An empty path returns the
// built-in tables.
func LoadSources(path string) ([]SourceSpec, error) {
	if path == "" {
		return DefaultSources(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes and validates a YAML source table.
func ParseSources(data []byte) ([]SourceSpec, error) {
	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, errors.New("sources file lists no sources")
	}
	seen := make(map[models.Source]struct{}, len(file.Sources))
	for _, spec := range file.Sources {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate source %s", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return file.Sources, nil
}
