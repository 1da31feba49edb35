package v1

import (
	"context"
)

type RangeInterface interface {
	// Next returns the next value of the range, as JSON
	Next(ctx context.Context, name string) (*RangeValue, error)
}

type rangeClient struct {
	client *RespoolV1Client
}

func (c *rangeClient) Next(ctx context.Context, name string) (*RangeValue, error) {
	result := RangeValue{}
	err := c.client.do(ctx, c.client.restClient.
		Post().
		AbsPath("/v1/ranges", name, "next"), &result)
	return &result, err
}
