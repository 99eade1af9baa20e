package service

import (
	"errors"
	"sync"
	"time"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/pricing"
)

const (
	MaxSubscriptionQuantity = 50
	QuoteValidity           = 30 * 24 * time.Hour
)

var (
	ErrUnknownRow         = errors.New("unknown row")
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	ErrUnknownFrequency   = errors.New("unknown frequency")
	ErrBelowMinimum       = errors.New("order below bulk minimum")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

const catalogErrorMessage = "Error loading products. Please try refreshing."

type subscriptionDraft struct {
	quantity int
	quality  pricing.Quality
}

type BulkRow struct {
	ID        string                  `json:"id"`
	Product   domain.LocalizedProduct `json:"product"`
	Quantity  int                     `json:"quantity"`
	LineTotal int64                   `json:"line_total"`
}

type BulkView struct {
	Revision  int64              `json:"revision"`
	Language  string             `json:"language"`
	Direction string             `json:"direction"`
	Rows      []BulkRow          `json:"rows"`
	Quote     pricing.BulkResult `json:"quote"`
	Error     string             `json:"error,omitempty"`
}

type SubscriptionRow struct {
	ID        string                  `json:"id"`
	Product   domain.LocalizedProduct `json:"product"`
	Quantity  int                     `json:"quantity"`
	Quality   pricing.Quality         `json:"quality"`
	UnitPrice int64                   `json:"unit_price"`
	LineTotal int64                   `json:"line_total"`
}

type SubscriptionView struct {
	Revision    int64                      `json:"revision"`
	Language    string                     `json:"language"`
	Direction   string                     `json:"direction"`
	Rows        []SubscriptionRow          `json:"rows"`
	Frequencies []pricing.Frequency        `json:"frequencies"`
	Frequency   string                     `json:"frequency"`
	Quote       pricing.SubscriptionResult `json:"quote"`
	Empty       bool                       `json:"empty"`
	Error       string                     `json:"error,omitempty"`
}

// QuoteLine and QuoteDocument are the printable bulk quote.
type QuoteLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Total    int64  `json:"total"`
}

type QuoteDocument struct {
	Language        string      `json:"language"`
	IssuedAt        time.Time   `json:"issued_at"`
	ValidUntil      time.Time   `json:"valid_until"`
	Lines           []QuoteLine `json:"lines"`
	TotalUnits      int         `json:"total_units"`
	DiscountPercent int64       `json:"discount_percent"`
	Subtotal        int64       `json:"subtotal"`
	Total           int64       `json:"total"`
}

// Workspace is the server-side state of one tab's catalog views: the rows
// last rendered and whatever the customer typed into them. Typed drafts are
// keyed by row identity so they survive a re-render.
type Workspace struct {
	mu sync.Mutex

	lang        string
	products    []domain.Product
	rowIDs      []string
	bulk        map[string]int
	subs        map[string]subscriptionDraft
	frequencies []pricing.Frequency
	frequency   pricing.Frequency
	revision    int64
	loadErr     bool
	touched     time.Time

	unsubscribe func()
}

func newWorkspace(lang string, frequencies []pricing.Frequency) *Workspace {
	return &Workspace{
		lang:        lang,
		bulk:        make(map[string]int),
		subs:        make(map[string]subscriptionDraft),
		frequencies: frequencies,
		frequency:   frequencies[0],
		touched:     time.Now(),
	}
}

// Revision counts renders. Edits to drafts do not re-render.
func (w *Workspace) Revision() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.revision
}

func (w *Workspace) apply(update CatalogUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if update.Err != nil {
		if w.products != nil {
			return
		}
		w.loadErr = true
		w.revision++
		return
	}
	w.reconcile(update.Products)
}

func (w *Workspace) setLanguage(lang string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lang = lang
	if w.products != nil || w.loadErr {
		w.revision++
	}
}

// reconcile re-renders the rows and keeps drafts of rows that still exist.
func (w *Workspace) reconcile(products []domain.Product) {
	ids := make([]string, len(products))
	present := make(map[string]bool, len(products))
	for i, p := range products {
		ids[i] = domain.RowID(p, i)
		present[ids[i]] = true
	}
	for id := range w.bulk {
		if !present[id] {
			delete(w.bulk, id)
		}
	}
	for id := range w.subs {
		if !present[id] {
			delete(w.subs, id)
		}
	}

	w.products = products
	w.rowIDs = ids
	w.loadErr = false
	w.revision++
}

func (w *Workspace) indexOf(id string) int {
	for i, rid := range w.rowIDs {
		if rid == id {
			return i
		}
	}
	return -1
}

func (w *Workspace) touch() {
	w.touched = time.Now()
}

// SetBulkQuantity stores a typed quantity. Negative input reads as zero.
func (w *Workspace) SetBulkQuantity(id string, quantity int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	if w.indexOf(id) < 0 {
		return ErrUnknownRow
	}
	w.bulk[id] = max(quantity, 0)
	return nil
}

// StepBulk applies the +/- buttons; the quantity never drops below zero.
func (w *Workspace) StepBulk(id string, delta int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	if w.indexOf(id) < 0 {
		return ErrUnknownRow
	}
	w.bulk[id] = max(w.bulk[id]+delta, 0)
	return nil
}

func (w *Workspace) SetSubscriptionLine(id string, quantity int, quality pricing.Quality) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	if w.indexOf(id) < 0 {
		return ErrUnknownRow
	}
	if quantity < 0 || quantity > MaxSubscriptionQuantity {
		return ErrQuantityOutOfRange
	}
	if quality == "" {
		quality = pricing.QualityStandard
	}
	w.subs[id] = subscriptionDraft{quantity: quantity, quality: quality}
	return nil
}

func (w *Workspace) SelectFrequency(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	for _, f := range w.frequencies {
		if f.ID == id {
			w.frequency = f
			return nil
		}
	}
	return ErrUnknownFrequency
}

func (w *Workspace) BulkView() BulkView {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	view := BulkView{
		Revision:  w.revision,
		Language:  w.lang,
		Direction: domain.TextDirection(w.lang),
		Rows:      []BulkRow{},
	}
	if w.loadErr {
		view.Error = catalogErrorMessage
	}

	lines := make([]pricing.Line, 0, len(w.products))
	for i, p := range w.products {
		id := w.rowIDs[i]
		lp := p.Localize(w.lang)
		qty := w.bulk[id]
		view.Rows = append(view.Rows, BulkRow{ID: id, Product: lp, Quantity: qty, LineTotal: p.PriceBox * int64(qty)})
		lines = append(lines, pricing.Line{ID: id, Name: lp.Name, UnitPrice: p.PriceBox, Quantity: qty})
	}
	view.Quote = pricing.BulkQuote(lines)
	return view
}

// QuoteDocument is only issued once the order meets the bulk minimum.
func (w *Workspace) QuoteDocument(now time.Time) (QuoteDocument, error) {
	view := w.BulkView()
	if view.Quote.BelowMinimum {
		return QuoteDocument{}, ErrBelowMinimum
	}

	doc := QuoteDocument{
		Language:        view.Language,
		IssuedAt:        now,
		ValidUntil:      now.Add(QuoteValidity),
		Lines:           make([]QuoteLine, 0, len(view.Quote.Lines)),
		TotalUnits:      view.Quote.TotalUnits,
		DiscountPercent: view.Quote.DiscountPercent,
		Subtotal:        view.Quote.Subtotal,
		Total:           view.Quote.Total,
	}
	for _, l := range view.Quote.Lines {
		doc.Lines = append(doc.Lines, QuoteLine{Name: l.Name, Quantity: l.Quantity, Total: l.Total()})
	}
	return doc, nil
}

func (w *Workspace) SubscriptionView() SubscriptionView {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()

	view := SubscriptionView{
		Revision:    w.revision,
		Language:    w.lang,
		Direction:   domain.TextDirection(w.lang),
		Rows:        []SubscriptionRow{},
		Frequencies: w.frequencies,
		Frequency:   w.frequency.ID,
		Empty:       w.products != nil && len(w.products) == 0,
	}
	if w.loadErr {
		view.Error = catalogErrorMessage
	}

	lines := make([]pricing.SubscriptionLine, 0, len(w.products))
	for i, p := range w.products {
		id := w.rowIDs[i]
		lp := p.Localize(w.lang)
		draft := w.subs[id]
		if draft.quality == "" {
			draft.quality = pricing.QualityStandard
		}
		line := pricing.SubscriptionLine{ID: id, Name: lp.Name, UnitPrice: p.PriceBox, Quality: draft.quality, Quantity: draft.quantity}
		view.Rows = append(view.Rows, SubscriptionRow{
			ID:        id,
			Product:   lp,
			Quantity:  draft.quantity,
			Quality:   draft.quality,
			UnitPrice: p.PriceBox + draft.quality.AddOn(),
			LineTotal: line.Total(),
		})
		lines = append(lines, line)
	}
	view.Quote = pricing.SubscriptionTotal(lines, w.frequency)
	return view
}
