package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/f5qa/respool/pkg/cache"
	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
	"github.com/f5qa/respool/pkg/utils"
)

type Command interface {
	Run() error
}

// lookupPool answers the request itself when the pool cannot be used
func lookupPool(c *gin.Context, factory *respool.Factory, pool string) (respool.Allocator, bool) {
	if !utils.CanUsePool(c, pool) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, clientv1.ErrorResponse{
			Msg:    fmt.Sprintf("not allowed to use pool %s", pool),
			Reason: clientv1.ReasonUnauthorized,
		})
		return nil, false
	}

	a, ok := factory.Lookup(pool)
	if !ok {
		c.JSON(http.StatusNotFound, clientv1.ErrorResponse{
			Msg:    fmt.Sprintf("pool %s does not exist", pool),
			Reason: clientv1.ReasonNotFound,
		})
		return nil, false
	}
	return a, true
}

func toItems(pool string, items []respool.Item) []clientv1.Item {
	res := make([]clientv1.Item, 0, len(items))
	for _, item := range items {
		res = append(res, clientv1.NewItem(pool, item))
	}
	return res
}

// WriteError answers with the status matching err
func WriteError(c *gin.Context, err error) {
	code, reason := http.StatusInternalServerError, clientv1.ReasonInternal

	switch {
	case errors.Is(err, respool.ErrInvalidName):
		code, reason = http.StatusBadRequest, clientv1.ReasonInvalid
	case errors.Is(err, respool.ErrPoolExhausted):
		code, reason = http.StatusConflict, clientv1.ReasonExhausted
	case errors.Is(err, respool.ErrCASRetriesExhausted):
		code, reason = http.StatusServiceUnavailable, clientv1.ReasonConflict
	case errors.Is(err, cache.ErrCacheUnavailable), errors.Is(err, context.DeadlineExceeded):
		code, reason = http.StatusServiceUnavailable, clientv1.ReasonUnavailable
	}

	c.JSON(code, clientv1.ErrorResponse{
		Msg:    err.Error(),
		Reason: reason,
	})
}
