package v1

import (
	"encoding/json"

	"github.com/f5qa/respool/pkg/respool"
)

// TokenHeader carries the access token of the caller
const TokenHeader = "X-Respool-Token"

// RequestIDHeader identifies a request in the server logs
const RequestIDHeader = "X-Request-Id"

const (
	ReasonExhausted    = "exhausted"
	ReasonConflict     = "conflict"
	ReasonUnavailable  = "unavailable"
	ReasonNotFound     = "not_found"
	ReasonInvalid      = "invalid"
	ReasonUnauthorized = "unauthorized"
	ReasonInternal     = "internal"
)

// Item is an allocated item as returned by the API
type Item struct {
	respool.EncodedItem
	Pool     string `json:"pool"`
	FullName string `json:"fullName"`
	Display  string `json:"display"`
}

func NewItem(pool string, item respool.Item) Item {
	return Item{
		EncodedItem: item.Encode(),
		Pool:        pool,
		FullName:    item.FullName(),
		Display:     item.String(),
	}
}

// Decode turns the API representation back into a respool item
func (i Item) Decode() (respool.Item, error) {
	return respool.DecodeItem(i.EncodedItem)
}

type ItemList struct {
	Items []Item `json:"items"`
}

type PoolList struct {
	Pools []string `json:"pools"`
}

type PoolStatus struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

type FreeResult struct {
	Found bool   `json:"found"`
	Items []Item `json:"items"`
}

type RangeValue struct {
	Range string          `json:"range"`
	Value json.RawMessage `json:"value"`
}

type ErrorResponse struct {
	Msg    string `json:"msg"`
	Reason string `json:"reason,omitempty"`
}
