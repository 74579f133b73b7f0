// All global custom validations in Carewire are defined here.
// These validations are allowed to be used anywhere in the application.

package validations

import (
	"Carewire/pkg/log"
	"context"
	"regexp"

	"github.com/asaskevich/govalidator"
)

func RegisterCustomValidations(ctx context.Context, logger log.Logger) {
	// This global validation doesn't allow whitespace in input.
	govalidator.TagMap["nospace"] = govalidator.Validator(func(str string) bool {
		return !govalidator.HasWhitespace(str)
	})
	// Room keys can only contain letters, numbers, hyphens & underscores.
	govalidator.TagMap["roomkey"] = govalidator.Validator(func(str string) bool {
		pattern := regexp.MustCompile("[^a-zA-Z0-9_-]")
		return len(str) != 0 && !pattern.MatchString(str)
	})
	// Event names are camelCase identifiers, letters and digits only.
	govalidator.TagMap["eventname"] = govalidator.Validator(func(str string) bool {
		pattern := regexp.MustCompile("^[a-zA-Z][a-zA-Z0-9_]*$")
		return pattern.MatchString(str)
	})
}
