package domain

import "errors"

// CartKey is the storage key holding the serialized cart.
const CartKey = "cart"

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrItemNotInCart   = errors.New("item not in cart")
	ErrInvalidUnit     = errors.New("unknown unit")
)

type Unit string

const (
	UnitBox  Unit = "box"
	UnitRoll Unit = "roll"
)

// ParseUnit maps an empty unit to box, matching how legacy carts were written.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case "", UnitBox:
		return UnitBox, nil
	case UnitRoll:
		return UnitRoll, nil
	}
	return "", ErrInvalidUnit
}

// Identity is the merge key of a cart line: (key or name) + unit.
type Identity string

func NewIdentity(key, name string, unit Unit) Identity {
	base := key
	if base == "" {
		base = name
	}
	if unit == "" {
		unit = UnitBox
	}
	return Identity(base + "-" + string(unit))
}

type CartItem struct {
	Key      string `json:"key,omitempty"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Unit     Unit   `json:"unit"`
	Quantity int    `json:"quantity"`
	Image    string `json:"image,omitempty"`
}

func (i CartItem) Identity() Identity {
	return NewIdentity(i.Key, i.Name, i.Unit)
}

func (i CartItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// Cart keeps lines in the order they were first added.
type Cart struct {
	Items []CartItem `json:"items"`
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c Cart) TotalUnits() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

func (c Cart) Subtotal() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.LineTotal()
	}
	return total
}

func (c Cart) indexOf(id Identity) int {
	for i, it := range c.Items {
		if it.Identity() == id {
			return i
		}
	}
	return -1
}

func (c Cart) Find(id Identity) (CartItem, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.Items[i], true
	}
	return CartItem{}, false
}

// Add merges into an existing line with the same identity or appends a new one.
func (c Cart) Add(item CartItem, quantity int) (Cart, error) {
	if quantity < 1 {
		return c, ErrInvalidQuantity
	}
	if item.Price < 0 {
		return c, ErrInvalidPrice
	}
	if item.Unit == "" {
		item.Unit = UnitBox
	}

	items := c.clone()
	if i := c.indexOf(item.Identity()); i >= 0 {
		items[i].Quantity += quantity
		return Cart{Items: items}, nil
	}

	item.Quantity = quantity
	return Cart{Items: append(items, item)}, nil
}

// SetQuantity removes the line when quantity <= 0.
func (c Cart) SetQuantity(id Identity, quantity int) (Cart, error) {
	i := c.indexOf(id)
	if i < 0 {
		return c, ErrItemNotInCart
	}
	if quantity <= 0 {
		return c.Remove(id)
	}
	items := c.clone()
	items[i].Quantity = quantity
	return Cart{Items: items}, nil
}

func (c Cart) Adjust(id Identity, delta int) (Cart, error) {
	item, ok := c.Find(id)
	if !ok {
		return c, ErrItemNotInCart
	}
	return c.SetQuantity(id, item.Quantity+delta)
}

func (c Cart) Remove(id Identity) (Cart, error) {
	i := c.indexOf(id)
	if i < 0 {
		return c, ErrItemNotInCart
	}
	items := make([]CartItem, 0, len(c.Items)-1)
	items = append(items, c.Items[:i]...)
	items = append(items, c.Items[i+1:]...)
	return Cart{Items: items}, nil
}

func (c Cart) clone() []CartItem {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return items
}
