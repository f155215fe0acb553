package repository

import (
	"encoding/json"
	"fmt"

	"payndeliver-cart/internal/model"
)

// encodeProducts serializes products for a JSON column.
func encodeProducts(products []model.LineItem) ([]byte, error) {
	if products == nil {
		products = []model.LineItem{}
	}
	data, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("failed to encode products: %w", err)
	}
	return data, nil
}

// decodeProducts parses a JSON column. The total is recomputed by the caller.
func decodeProducts(raw []byte) ([]model.LineItem, error) {
	products := []model.LineItem{}
	if len(raw) == 0 {
		return products, nil
	}
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	if products == nil {
		products = []model.LineItem{}
	}
	return products, nil
}

// buildCart assembles a record read from storage.
func buildCart(userID string, rawProducts []byte) (*model.Cart, error) {
	products, err := decodeProducts(rawProducts)
	if err != nil {
		return nil, fmt.Errorf("cart %s: %w", userID, err)
	}
	return &model.Cart{
		UserID:   userID,
		Products: products,
		Total:    model.Total(products),
	}, nil
}
