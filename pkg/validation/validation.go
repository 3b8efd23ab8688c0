// Package validation holds the single validator instance shared by the HTTP
// binding layer and the services.
package validation

import (
	"reflect"
	"strings"
	"sync"

	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/payout"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator, configured to report json field
// names and to understand the domain tags.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		configure(v)
		instance = v
	})
	return instance
}

func configure(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("payouttype", func(fl validator.FieldLevel) bool {
		return payout.Type(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("amounttype", func(fl validator.FieldLevel) bool {
		return payout.AmountType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Struct validates s and converts the first failure into a validation error.
func Struct(s any) error {
	if err := Validator().Struct(s); err != nil {
		return errutil.FromBinding(err)
	}
	return nil
}

// InstallGin makes gin's binding use the same tag name and custom rules.
func InstallGin() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.SetTagName("validate")
		configure(v)
	}
}
