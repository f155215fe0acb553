package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotal(t *testing.T) {
	items := []LineItem{
		{ID: "a", Price: decimal.NewFromInt(10), Quantity: 2},
		{ID: "b", Price: decimal.NewFromInt(5), Quantity: 3},
	}
	assert.True(t, decimal.NewFromInt(35).Equal(Total(items)))
	assert.True(t, decimal.Zero.Equal(Total(nil)))
}

func TestLineItemJSONPriceIsNumber(t *testing.T) {
	item := LineItem{ID: "a", Name: "Tea", Price: decimal.RequireFromString("4.5"), Quantity: 1}
	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"price":4.5`)

	var decoded LineItem
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","price":"4.50","quantity":2}`), &decoded))
	assert.True(t, decimal.RequireFromString("4.5").Equal(decoded.Price))
}

func TestNormalizeItems(t *testing.T) {
	t.Run("trims and merges duplicates", func(t *testing.T) {
		items, problems := NormalizeItems([]LineItem{
			{ID: " a ", Name: " Tea ", Price: decimal.NewFromInt(1), Quantity: 1},
			{ID: "b", Price: decimal.NewFromInt(2), Quantity: 1},
			{ID: "a", Price: decimal.NewFromInt(1), Quantity: 2},
		})
		assert.Empty(t, problems)
		require.Len(t, items, 2)
		assert.Equal(t, "a", items[0].ID)
		assert.Equal(t, "Tea", items[0].Name)
		assert.Equal(t, 3, items[0].Quantity)
		assert.Equal(t, "b", items[1].ID)
	})

	t.Run("rejects malformed items", func(t *testing.T) {
		items, problems := NormalizeItems([]LineItem{
			{ID: "", Price: decimal.NewFromInt(1), Quantity: 1},
			{ID: "neg", Price: decimal.NewFromInt(-1), Quantity: 1},
			{ID: "zero", Price: decimal.NewFromInt(1), Quantity: 0},
			{ID: "ok", Price: decimal.Zero, Quantity: 1},
		})
		require.Len(t, items, 1)
		assert.Equal(t, "ok", items[0].ID)
		require.Len(t, problems, 3)
		assert.Equal(t, "products[0].id", problems[0].Field)
		assert.Equal(t, "products[1].price", problems[1].Field)
		assert.Equal(t, "products[2].quantity", problems[2].Field)
	})
}

func TestValidateCart(t *testing.T) {
	_, problems := ValidateCart("", nil)
	require.Len(t, problems, 2)
	assert.Equal(t, "userId", problems[0].Field)
	assert.Equal(t, "products", problems[1].Field)

	items, problems := ValidateCart("u1", []LineItem{})
	assert.Empty(t, problems)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestNewCart(t *testing.T) {
	c := NewCart("u1", nil)
	assert.Equal(t, "u1", c.UserID)
	assert.NotNil(t, c.Products)
	assert.True(t, c.Total.IsZero())
	assert.False(t, c.UpdatedAt.IsZero())
}
