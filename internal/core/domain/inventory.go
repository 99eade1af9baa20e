package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// InventoryCacheKey is where the last fetched catalog snapshot is cached.
const InventoryCacheKey = "nordic_inventory_cache"

// DefaultLanguage is the fallback locale for product text.
const DefaultLanguage = "en"

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPrice    = errors.New("price must not be negative")

	// ErrOptimisticLock is returned when a record changed since it was read.
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)

// Localized holds per-locale variants of one product text field.
type Localized map[string]string

// Get walks requested locale -> English -> fallback.
func (l Localized) Get(lang, fallback string) string {
	if v := l[lang]; v != "" {
		return v
	}
	if v := l[DefaultLanguage]; v != "" {
		return v
	}
	return fallback
}

// Product is one record of the remote catalog feed. The feed is flat
// (name_en, name_sv, info_en, badge_en, ...); the locale suffixed columns
// are folded into maps on decode and flattened again on encode.
type Product struct {
	Key       string
	Names     Localized
	Infos     Localized
	Badges    Localized
	Image     string
	PriceBox  int64
	PriceRoll int64
}

// LocalizedProduct is a product rendered for one language.
type LocalizedProduct struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Info      string `json:"info,omitempty"`
	Badge     string `json:"badge,omitempty"`
	Image     string `json:"image"`
	PriceBox  int64  `json:"price_box"`
	PriceRoll int64  `json:"price_roll"`
}

func (p Product) Localize(lang string) LocalizedProduct {
	return LocalizedProduct{
		Key:       p.Key,
		Name:      p.Names.Get(lang, p.Key),
		Info:      p.Infos.Get(lang, ""),
		Badge:     p.Badges.Get(lang, ""),
		Image:     p.Image,
		PriceBox:  p.PriceBox,
		PriceRoll: p.PriceRoll,
	}
}

// Price returns the unit price for the given sale unit.
func (p Product) Price(unit Unit) int64 {
	if unit == UnitRoll {
		return p.PriceRoll
	}
	return p.PriceBox
}

func (p Product) MarshalJSON() ([]byte, error) {
	flat := map[string]any{
		"key":        p.Key,
		"image":      p.Image,
		"price_box":  p.PriceBox,
		"price_roll": p.PriceRoll,
	}
	for prefix, values := range map[string]Localized{"name_": p.Names, "info_": p.Infos, "badge_": p.Badges} {
		for lang, v := range values {
			flat[prefix+lang] = v
		}
	}
	return json.Marshal(flat)
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Product{Names: Localized{}, Infos: Localized{}, Badges: Localized{}}
	for field, value := range raw {
		switch {
		case field == "key":
			out.Key = scalarString(value)
		case field == "image":
			out.Image = scalarString(value)
		case field == "price_box":
			n, err := scalarInt(value)
			if err != nil {
				return fmt.Errorf("price_box: %w", err)
			}
			out.PriceBox = n
		case field == "price_roll":
			n, err := scalarInt(value)
			if err != nil {
				return fmt.Errorf("price_roll: %w", err)
			}
			out.PriceRoll = n
		case field == "name":
			// older sheets carried an untranslated name column
			if _, ok := out.Names[DefaultLanguage]; !ok {
				out.Names[DefaultLanguage] = scalarString(value)
			}
		case strings.HasPrefix(field, "name_"):
			out.Names[strings.TrimPrefix(field, "name_")] = scalarString(value)
		case strings.HasPrefix(field, "info_"):
			out.Infos[strings.TrimPrefix(field, "info_")] = scalarString(value)
		case strings.HasPrefix(field, "badge_"):
			out.Badges[strings.TrimPrefix(field, "badge_")] = scalarString(value)
		}
	}
	*p = out
	return nil
}

// scalarString accepts strings and numbers; sheet exports are not strict about either.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func scalarInt(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(scalarString(raw))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	f = math.Round(f)
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("number %q out of range", s)
	}
	return int64(f), nil
}

// RowID is the identity used to reconcile rendered rows: the product key,
// or the row position for keyless records.
func RowID(p Product, index int) string {
	if p.Key != "" {
		return p.Key
	}
	return strconv.Itoa(index)
}

// Snapshot is a wholesale copy of the remote catalog.
type Snapshot struct {
	Products  []Product `json:"products"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// SameCatalog compares two product lists structurally, ignoring fetch time.
func SameCatalog(a, b []Product) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(normalize(a[i]), normalize(b[i])) {
			return false
		}
	}
	return true
}

func normalize(p Product) Product {
	p.Names = dropEmpty(p.Names)
	p.Infos = dropEmpty(p.Infos)
	p.Badges = dropEmpty(p.Badges)
	return p
}

func dropEmpty(l Localized) Localized {
	out := Localized{}
	for k, v := range l {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
