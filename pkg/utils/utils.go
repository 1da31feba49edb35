package utils

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const (
	// ValidPoolsKey holds, in the gin context, the comma separated list of
	// pools the caller can use
	ValidPoolsKey = "validpools"

	// AllPools grants access to every pool
	AllPools = "*"
)

func CanUsePool(context *gin.Context, pool string) bool {
	v, _ := context.Get(ValidPoolsKey)
	if v == nil {
		return false
	}
	if v == AllPools {
		return true
	}
	validpools := strings.Split(fmt.Sprint(v), ",")
	return lo.Contains(lo.Map(validpools, func(p string, _ int) string {
		return strings.TrimSpace(p)
	}), pool)
}
