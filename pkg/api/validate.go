package api

import "github.com/go-playground/validator/v10"

// validate is a package-level validator instance, mirroring the teacher's
// utils.ValidateStruct single-instance usage (struct validators are safe
// for concurrent use once built, and building one per call is wasted work
// on every request).
var validate = validator.New()

// ValidateStruct runs validator/v10 struct-tag validation over req,
// implementing "declarative schema per operation".
func ValidateStruct(req interface{}) error {
	return validate.Struct(req)
}
