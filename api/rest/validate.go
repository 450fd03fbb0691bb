package rest

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/kasuganosora/raidloot/server/model"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags used by request
// bodies. It is safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("slot", func(fl validator.FieldLevel) bool {
			return model.Slot(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("spec", func(fl validator.FieldLevel) bool {
			return model.SpecType(fl.Field().String()).IsBucket()
		})
	})
}
