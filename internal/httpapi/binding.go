package httpapi

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var fieldNamesOnce sync.Once

// useJSONFieldNames makes validation errors name request fields the way
// clients send them.
func useJSONFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// bindJSON decodes and validates the request body. On failure it has already
// written the 400.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		badRequest(c, "invalid json")
		return false
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		badRequest(c, fe.Field()+" required")
	case "email":
		badRequest(c, fe.Field()+" must be a valid email")
	case "oneof":
		badRequest(c, fe.Field()+" must be one of: "+fe.Param())
	default:
		badRequest(c, "invalid "+fe.Field())
	}
	return false
}
