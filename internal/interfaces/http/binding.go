package http

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Product identifiers follow the platform store convention: dot-separated
// lowercase alphanumeric segments, e.g. "premium.monthly".
var productIDPattern = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)+$`)

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("product_id", func(fl validator.FieldLevel) bool {
			return productIDPattern.MatchString(fl.Field().String())
		})
	}
}
