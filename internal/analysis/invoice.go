package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Line item extraction names.
const (
	lineItemName       = "description"
	lineItemQuantity   = "quantity"
	lineItemGrossPrice = "grossPrice"
	lineItemBaseGross  = "baseGross"
)

var (
	// ErrNoLineItems means the result carries no compound line items.
	ErrNoLineItems = errors.New("no line items")
	// ErrLineItemNameMissing means a line item has no description.
	ErrLineItemNameMissing = errors.New("line item name missing")
	// ErrLineItemQuantityMissing means a line item has no quantity.
	ErrLineItemQuantityMissing = errors.New("line item quantity missing")
	// ErrLineItemPriceMissing means a line item has no gross price.
	ErrLineItemPriceMissing = errors.New("line item price missing")
	// ErrInvalidQuantity means a quantity is not an integer.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidReason means a deselection reason is unknown.
	ErrInvalidReason = errors.New("invalid deselection reason")
)

// Reason explains why a line item is being returned.
type Reason string

// Deselection reasons.
const (
	ReasonLooksDifferent      Reason = "looksDifferent"
	ReasonPoorQualityOrFaulty Reason = "poorQualityOrFaulty"
	ReasonDoesNotFit          Reason = "doesNotFit"
	ReasonDoesNotSuit         Reason = "doesNotSuit"
	ReasonWrongItem           Reason = "wrongItem"
	ReasonDamaged             Reason = "damaged"
	ReasonArrivedTooLate      Reason = "arrivedTooLate"
)

var reasonLabels = map[Reason]string{
	ReasonLooksDifferent:      "Looks different than site image",
	ReasonPoorQualityOrFaulty: "Poor quality/faulty",
	ReasonDoesNotFit:          "Doesn't fit properly",
	ReasonDoesNotSuit:         "Doesn't suit me",
	ReasonWrongItem:           "Received wrong item",
	ReasonDamaged:             "Parcel damaged",
	ReasonArrivedTooLate:      "Arrived too late",
}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	_, ok := reasonLabels[r]
	return ok
}

// Label is the human readable form of r.
func (r Reason) Label() string {
	return reasonLabels[r]
}

// LineItem is one row of an invoice. Items start selected; a deselected item
// carries the reason it is being returned.
type LineItem struct {
	Name             string
	Quantity         int
	Price            Price
	DeselectedReason Reason

	source   Extractions
	priceKey string
}

// NewLineItem builds a line item from its compound extractions.
func NewLineItem(extractions Extractions) (LineItem, error) {
	name, ok := extractions[lineItemName]
	if !ok {
		return LineItem{}, ErrLineItemNameMissing
	}
	quantity, ok := extractions[lineItemQuantity]
	if !ok {
		return LineItem{}, ErrLineItemQuantityMissing
	}
	priceKey := lineItemGrossPrice
	price, ok := extractions[priceKey]
	if !ok {
		priceKey = lineItemBaseGross
		if price, ok = extractions[priceKey]; !ok {
			return LineItem{}, ErrLineItemPriceMissing
		}
	}

	qty, err := strconv.Atoi(strings.TrimSpace(quantity.Value))
	if err != nil {
		return LineItem{}, fmt.Errorf("%w: %q", ErrInvalidQuantity, quantity.Value)
	}
	parsed, err := ParsePrice(price.Value)
	if err != nil {
		return LineItem{}, err
	}
	return LineItem{
		Name:     name.Value,
		Quantity: qty,
		Price:    parsed,
		source:   extractions.Clone(),
		priceKey: priceKey,
	}, nil
}

// Selected reports whether the item is kept.
func (li LineItem) Selected() bool { return li.DeselectedReason == "" }

// Deselect marks the item as returned for reason.
func (li *LineItem) Deselect(reason Reason) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	li.DeselectedReason = reason
	return nil
}

// Select marks the item as kept again.
func (li *LineItem) Select() { li.DeselectedReason = "" }

// TotalPrice is the price of all units.
func (li LineItem) TotalPrice() Price { return li.Price.Mul(li.Quantity) }

// Extractions returns the item's extractions with the current name, price and
// quantity written back. A deselected item reports quantity "0".
func (li LineItem) Extractions() Extractions {
	out := li.source.Clone()
	if out == nil {
		out = make(Extractions, 3)
	}
	quantity := strconv.Itoa(li.Quantity)
	if !li.Selected() {
		quantity = "0"
	}
	priceKey := li.priceKey
	if priceKey == "" {
		priceKey = lineItemGrossPrice
	}
	set := func(key, value string) {
		e := out[key]
		e.Name = key
		e.Value = value
		out[key] = e
	}
	set(lineItemName, li.Name)
	set(lineItemQuantity, quantity)
	set(priceKey, li.Price.ExtractionString())
	return out
}

// Addon names recognized among the regular extractions.
var addonNames = map[string]string{
	"discount-addon":        "Discount",
	"giftcard-addon":        "Gift card",
	"other-discounts-addon": "Other discounts",
	"other-charges-addon":   "Other charges",
	"shipment-addon":        "Shipping",
}

// Addon is an invoice-level charge or discount such as shipping.
type Addon struct {
	Key   string
	Label string
	Price Price
}

// NewAddon reports false for extractions that are not a priced addon.
func NewAddon(e Extraction) (Addon, bool) {
	label, ok := addonNames[e.Name]
	if !ok {
		return Addon{}, false
	}
	price, err := ParsePrice(e.Value)
	if err != nil {
		return Addon{}, false
	}
	return Addon{Key: e.Name, Label: label, Price: price}, true
}

// DigitalInvoice groups the line items and addons of one analyzed invoice.
type DigitalInvoice struct {
	Extractions Extractions
	LineItems   []LineItem
	Addons      []Addon
}

// NewDigitalInvoice parses every line item. It fails with ErrNoLineItems when
// there are none.
func NewDigitalInvoice(extractions Extractions, lineItems []Extractions) (*DigitalInvoice, error) {
	if len(lineItems) == 0 {
		return nil, ErrNoLineItems
	}
	inv := &DigitalInvoice{
		Extractions: extractions.Clone(),
		LineItems:   make([]LineItem, 0, len(lineItems)),
	}
	for i, raw := range lineItems {
		li, err := NewLineItem(raw)
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		inv.LineItems = append(inv.LineItems, li)
	}
	for _, e := range extractions {
		if addon, ok := NewAddon(e); ok {
			inv.Addons = append(inv.Addons, addon)
		}
	}
	sort.Slice(inv.Addons, func(i, j int) bool { return inv.Addons[i].Key < inv.Addons[j].Key })
	return inv, nil
}

// Total sums the selected items and all addons.
func (inv *DigitalInvoice) Total() (Price, error) {
	var total Price
	var err error
	for _, li := range inv.LineItems {
		if !li.Selected() {
			continue
		}
		if total, err = total.Add(li.TotalPrice()); err != nil {
			return Price{}, err
		}
	}
	for _, addon := range inv.Addons {
		if total, err = total.Add(addon.Price); err != nil {
			return Price{}, err
		}
	}
	return total, nil
}

// NumSelected counts the units of selected items.
func (inv *DigitalInvoice) NumSelected() int {
	n := 0
	for _, li := range inv.LineItems {
		if li.Selected() {
			n += li.Quantity
		}
	}
	return n
}

// NumTotal counts the units of all items.
func (inv *DigitalInvoice) NumTotal() int {
	n := 0
	for _, li := range inv.LineItems {
		n += li.Quantity
	}
	return n
}

// LineItemExtractions returns the compound extractions to send as feedback.
func (inv *DigitalInvoice) LineItemExtractions() []Extractions {
	out := make([]Extractions, len(inv.LineItems))
	for i, li := range inv.LineItems {
		out[i] = li.Extractions()
	}
	return out
}
