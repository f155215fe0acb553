package model

import (
	"fmt"
	"strings"
	"time"

	"payndeliver-cart/pkg/apierror"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// LineItem is one product entry within a cart.
type LineItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image"`
}

// Subtotal returns price * quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the server-side cart document keyed by user ID.
type Cart struct {
	UserID    string          `json:"userId"`
	Products  []LineItem      `json:"products"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewCart builds a cart record with a freshly computed total.
func NewCart(userID string, products []LineItem) *Cart {
	if products == nil {
		products = []LineItem{}
	}
	return &Cart{
		UserID:    userID,
		Products:  products,
		Total:     Total(products),
		UpdatedAt: time.Now().UTC(),
	}
}

// Total sums price * quantity over items.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// CloneItems returns a copy of items that shares no backing array with the input.
func CloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// NormalizeItems trims and validates items, merging duplicate IDs into the first
// occurrence. Invalid items are dropped and reported as field errors.
func NormalizeItems(items []LineItem) ([]LineItem, []apierror.FieldError) {
	out := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	var problems []apierror.FieldError

	for i, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		item.Name = strings.TrimSpace(item.Name)
		item.Image = strings.TrimSpace(item.Image)

		field := fmt.Sprintf("products[%d]", i)
		switch {
		case item.ID == "":
			problems = append(problems, apierror.FieldError{Field: field + ".id", Message: "id is required"})
			continue
		case item.Price.IsNegative():
			problems = append(problems, apierror.FieldError{Field: field + ".price", Message: "price must not be negative"})
			continue
		case item.Quantity < 1:
			problems = append(problems, apierror.FieldError{Field: field + ".quantity", Message: "quantity must be at least 1"})
			continue
		}

		if at, ok := index[item.ID]; ok {
			out[at].Quantity += item.Quantity
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}

	return out, problems
}

// ValidateCart checks a cart upsert payload. A nil Products slice means the
// field was absent; an empty one is a valid empty cart.
func ValidateCart(userID string, products []LineItem) ([]LineItem, []apierror.FieldError) {
	var problems []apierror.FieldError
	if strings.TrimSpace(userID) == "" {
		problems = append(problems, apierror.FieldError{Field: "userId", Message: "userId is required"})
	}
	if products == nil {
		problems = append(problems, apierror.FieldError{Field: "products", Message: "products is required"})
		return nil, problems
	}

	normalized, itemProblems := NormalizeItems(products)
	return normalized, append(problems, itemProblems...)
}
