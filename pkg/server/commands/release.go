package commands

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

type releaseCmd struct {
	context *gin.Context
	factory *respool.Factory
	pool    string
	name    string
}

// NewReleaseCmd frees the item allocated under name, in the namespace
// given by the prefix query parameter
func NewReleaseCmd(c *gin.Context, factory *respool.Factory, pool string, name string) Command {
	return &releaseCmd{
		context: c,
		factory: factory,
		pool:    pool,
		name:    name,
	}
}

func (c *releaseCmd) Run() error {
	a, ok := lookupPool(c.context, c.factory, c.pool)
	if !ok {
		return nil
	}

	ctx := c.context.Request.Context()
	if err := a.Refresh(ctx); err != nil {
		return err
	}

	var (
		item  respool.Item
		found bool
	)
	if prefix := c.context.Query("prefix"); prefix != "" {
		item, found = lo.Find(a.Items(), func(i respool.Item) bool {
			return i.FullName() == prefix+c.name
		})
	} else {
		item, found = a.GetByName(c.name)
	}

	result := clientv1.FreeResult{Items: []clientv1.Item{}}
	if found {
		removed, ok, err := a.Free(ctx, item)
		if err != nil {
			return err
		}
		result.Found = ok
		if ok {
			result.Items = append(result.Items, clientv1.NewItem(c.pool, removed))
		}
	}

	c.context.JSON(http.StatusOK, result)
	return nil
}

type releaseItemCmd struct {
	context *gin.Context
	factory *respool.Factory
	pool    string
}

// NewReleaseItemCmd frees the encoded item sent as the request body
func NewReleaseItemCmd(c *gin.Context, factory *respool.Factory, pool string) Command {
	return &releaseItemCmd{
		context: c,
		factory: factory,
		pool:    pool,
	}
}

func (c *releaseItemCmd) Run() error {
	a, ok := lookupPool(c.context, c.factory, c.pool)
	if !ok {
		return nil
	}

	var encoded respool.EncodedItem
	if err := c.context.ShouldBindJSON(&encoded); err != nil {
		c.context.JSON(http.StatusBadRequest, clientv1.ErrorResponse{
			Msg:    fmt.Sprintf("invalid item: %v", err),
			Reason: clientv1.ReasonInvalid,
		})
		return nil
	}

	removed, found, err := a.FreeEncoded(c.context.Request.Context(), encoded)
	if errors.Is(err, respool.ErrDecode) {
		c.context.JSON(http.StatusBadRequest, clientv1.ErrorResponse{
			Msg:    err.Error(),
			Reason: clientv1.ReasonInvalid,
		})
		return nil
	}
	if err != nil {
		return err
	}

	result := clientv1.FreeResult{Found: found, Items: []clientv1.Item{}}
	if found {
		result.Items = append(result.Items, clientv1.NewItem(c.pool, removed))
	}
	c.context.JSON(http.StatusOK, result)
	return nil
}

type releaseAllCmd struct {
	context *gin.Context
	factory *respool.Factory
	pool    string
}

func NewReleaseAllCmd(c *gin.Context, factory *respool.Factory, pool string) Command {
	return &releaseAllCmd{
		context: c,
		factory: factory,
		pool:    pool,
	}
}

func (c *releaseAllCmd) Run() error {
	a, ok := lookupPool(c.context, c.factory, c.pool)
	if !ok {
		return nil
	}

	removed, err := a.FreeAll(c.context.Request.Context(), respool.FreeOptions{
		Prefix: c.context.Query("prefix"),
	})
	if err != nil {
		return err
	}

	c.context.JSON(http.StatusOK, clientv1.FreeResult{
		Found: len(removed) > 0,
		Items: toItems(c.pool, removed),
	})
	return nil
}
