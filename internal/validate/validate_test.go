package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string  `json:"name" validate:"required,max=8"`
	Ratio  float64 `json:"ratio" validate:"gte=0,lte=1"`
	Format string  `json:"format,omitempty" validate:"oneof=csv json"`
	Note   string
}

func TestStruct(t *testing.T) {
	t.Run("Should accept a valid struct", func(t *testing.T) {
		assert.NoError(t, Struct(sample{Name: "nightly", Ratio: 0.5, Format: "csv"}))
	})

	t.Run("Should name failing fields by json tag", func(t *testing.T) {
		err := Struct(sample{Ratio: 2, Format: "xml"})

		var vErr *Error
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, map[string]string{
			"name":   "name is required",
			"ratio":  "ratio must be less than or equal to 1",
			"format": "format must be one of [csv json]",
		}, vErr.Fields)
		assert.EqualError(t, err, "format must be one of [csv json]; name is required; ratio must be less than or equal to 1")
	})

	t.Run("Should fall back to a generic message", func(t *testing.T) {
		type odd struct {
			Mail string `json:"mail" validate:"email"`
		}
		assert.EqualError(t, Struct(odd{Mail: "nope"}), "mail is invalid: email")
	})
}
