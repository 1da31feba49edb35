package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
	"github.com/f5qa/respool/pkg/utils"
)

type rangeNextCmd struct {
	context *gin.Context
	factory *respool.Factory
	name    string
}

func NewRangeNextCmd(c *gin.Context, factory *respool.Factory, name string) Command {
	return &rangeNextCmd{
		context: c,
		factory: factory,
		name:    name,
	}
}

func (c *rangeNextCmd) Run() error {
	if !utils.CanUsePool(c.context, c.name) {
		c.context.AbortWithStatusJSON(http.StatusUnauthorized, clientv1.ErrorResponse{
			Msg:    fmt.Sprintf("not allowed to use range %s", c.name),
			Reason: clientv1.ReasonUnauthorized,
		})
		return nil
	}

	r, ok := c.factory.LookupRange(c.name)
	if !ok {
		c.context.JSON(http.StatusNotFound, clientv1.ErrorResponse{
			Msg:    fmt.Sprintf("range %s does not exist", c.name),
			Reason: clientv1.ReasonNotFound,
		})
		return nil
	}

	v, ok := r.Next()
	if !ok {
		return fmt.Errorf("range %s: %w", c.name, respool.NewPoolExhaustedError(c.name))
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.context.JSON(http.StatusOK, clientv1.RangeValue{
		Range: c.name,
		Value: raw,
	})
	return nil
}
