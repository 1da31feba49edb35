package v1

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/f5qa/respool/pkg/respool"
)

type AcquireOptions struct {
	Name   string
	Prefix string
	Count  int
}

type ReleaseOptions struct {
	Prefix string
}

type PoolInterface interface {
	List(ctx context.Context) (*PoolList, error)
	Get(ctx context.Context, pool string) (*PoolStatus, error)
	Acquire(ctx context.Context, pool string, opts AcquireOptions) ([]Item, error)
	Release(ctx context.Context, pool string, name string, opts ReleaseOptions) (*FreeResult, error)
	ReleaseItem(ctx context.Context, pool string, item respool.EncodedItem) (*FreeResult, error)
	ReleaseAll(ctx context.Context, pool string, opts ReleaseOptions) (*FreeResult, error)
}

type poolClient struct {
	client *RespoolV1Client
}

func (c *poolClient) List(ctx context.Context) (*PoolList, error) {
	result := PoolList{}
	err := c.client.do(ctx, c.client.restClient.
		Get().
		AbsPath("/v1/pools"), &result)
	return &result, err
}

func (c *poolClient) Get(ctx context.Context, pool string) (*PoolStatus, error) {
	result := PoolStatus{}
	err := c.client.do(ctx, c.client.restClient.
		Get().
		AbsPath("/v1/pools", pool), &result)
	return &result, err
}

func (c *poolClient) Acquire(ctx context.Context, pool string, opts AcquireOptions) ([]Item, error) {
	req := c.client.restClient.
		Post().
		AbsPath("/v1/pools", pool)
	if opts.Name != "" {
		req = req.Param("name", opts.Name)
	}
	if opts.Prefix != "" {
		req = req.Param("prefix", opts.Prefix)
	}
	if opts.Count > 0 {
		req = req.Param("count", strconv.Itoa(opts.Count))
	}

	result := ItemList{}
	if err := c.client.do(ctx, req, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *poolClient) Release(ctx context.Context, pool string, name string, opts ReleaseOptions) (*FreeResult, error) {
	req := c.client.restClient.
		Delete().
		AbsPath("/v1/pools", pool, "items", name)
	if opts.Prefix != "" {
		req = req.Param("prefix", opts.Prefix)
	}

	result := FreeResult{}
	err := c.client.do(ctx, req, &result)
	return &result, err
}

func (c *poolClient) ReleaseItem(ctx context.Context, pool string, item respool.EncodedItem) (*FreeResult, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	result := FreeResult{}
	err = c.client.do(ctx, c.client.restClient.
		Delete().
		AbsPath("/v1/pools", pool, "items").
		SetHeader("Content-Type", "application/json").
		Body(body), &result)
	return &result, err
}

func (c *poolClient) ReleaseAll(ctx context.Context, pool string, opts ReleaseOptions) (*FreeResult, error) {
	req := c.client.restClient.
		Delete().
		AbsPath("/v1/pools", pool)
	if opts.Prefix != "" {
		req = req.Param("prefix", opts.Prefix)
	}

	result := FreeResult{}
	err := c.client.do(ctx, req, &result)
	return &result, err
}
