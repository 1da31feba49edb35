package commands

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

type acquireCmd struct {
	context *gin.Context
	factory *respool.Factory
	pool    string
}

func NewAcquireCmd(c *gin.Context, factory *respool.Factory, pool string) Command {
	return &acquireCmd{
		context: c,
		factory: factory,
		pool:    pool,
	}
}

func (c *acquireCmd) Run() error {
	count, err := strconv.Atoi(c.context.DefaultQuery("count", "1"))
	if err != nil || count < 1 {
		c.context.JSON(http.StatusBadRequest, clientv1.ErrorResponse{
			Msg:    fmt.Sprintf("invalid count %q", c.context.Query("count")),
			Reason: clientv1.ReasonInvalid,
		})
		return nil
	}

	a, ok := lookupPool(c.context, c.factory, c.pool)
	if !ok {
		return nil
	}

	opts := respool.GetOptions{
		Name:   c.context.Query("name"),
		Prefix: c.context.Query("prefix"),
	}

	var items []respool.Item
	if count == 1 {
		item, err := a.Get(c.context.Request.Context(), opts)
		if err != nil {
			return err
		}
		items = []respool.Item{item}
	} else {
		items, err = a.GetMulti(c.context.Request.Context(), count, opts)
		if err != nil {
			return err
		}
	}

	c.context.JSON(http.StatusOK, clientv1.ItemList{
		Items: toItems(c.pool, items),
	})
	return nil
}
