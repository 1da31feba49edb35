package commands

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
	"github.com/f5qa/respool/pkg/utils"
)

type statusCmd struct {
	context *gin.Context
	factory *respool.Factory
	pool    string
}

func NewStatusCmd(c *gin.Context, factory *respool.Factory, pool string) Command {
	return &statusCmd{
		context: c,
		factory: factory,
		pool:    pool,
	}
}

func (c *statusCmd) Run() error {
	a, ok := lookupPool(c.context, c.factory, c.pool)
	if !ok {
		return nil
	}

	if err := a.Refresh(c.context.Request.Context()); err != nil {
		return err
	}

	c.context.JSON(http.StatusOK, clientv1.PoolStatus{
		Name:  c.pool,
		Items: toItems(c.pool, a.Items()),
	})
	return nil
}

type listCmd struct {
	context *gin.Context
	factory *respool.Factory
}

// NewListCmd lists the pools the caller can use
func NewListCmd(c *gin.Context, factory *respool.Factory) Command {
	return &listCmd{
		context: c,
		factory: factory,
	}
}

func (c *listCmd) Run() error {
	pools := lo.Filter(c.factory.PoolNames(), func(p string, _ int) bool {
		return utils.CanUsePool(c.context, p)
	})
	slices.Sort(pools)

	c.context.JSON(http.StatusOK, clientv1.PoolList{Pools: pools})
	return nil
}
