package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"product-management/internal/domain"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validFields() domain.ProductFields {
	return domain.ProductFields{
		Name:             "iPhone",
		CategoryID:       1,
		Price:            decimal.RequireFromString("799.99"),
		Quantity:         3,
		ShortDescription: "A phone",
	}
}

func fieldsOf(errs []domain.ValidationError) []string {
	var fields []string
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	return fields
}

func TestProperty_RequiredProductFields(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("missing required fields are reported by json name", prop.ForAll(
		func(withName, withCategory, withShort bool) bool {
			fields := validFields()
			if !withName {
				fields.Name = ""
			}
			if !withCategory {
				fields.CategoryID = 0
			}
			if !withShort {
				fields.ShortDescription = ""
			}

			got := fieldsOf(NewProductValidator().ValidateProduct(fields))

			want := map[string]bool{"name": !withName, "categoryId": !withCategory, "shortDescription": !withShort}
			for field, missing := range want {
				found := false
				for _, g := range got {
					if g == field {
						found = true
					}
				}
				if found != missing {
					return false
				}
			}
			return len(got) == countTrue(!withName, !withCategory, !withShort)
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func countTrue(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func TestProperty_PriceMustNotBeNegative(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("negative prices are rejected", prop.ForAll(
		func(cents int64) bool {
			fields := validFields()
			fields.Price = decimal.New(cents, -2)

			errs := NewProductValidator().ValidateProduct(fields)
			if cents >= 0 {
				return len(errs) == 0
			}
			return len(errs) == 1 && errs[0].Field == "price" && errs[0].Tag == "gte"
		},
		gen.Int64Range(-100000, 100000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProductValidator_Lengths(t *testing.T) {
	v := NewProductValidator()

	fields := validFields()
	fields.ShortDescription = strings.Repeat("a", 250)
	fields.LongDescription = strings.Repeat("b", 1000)
	assert.Empty(t, v.ValidateProduct(fields))

	fields.ShortDescription = strings.Repeat("a", 251)
	fields.LongDescription = strings.Repeat("b", 1001)
	errs := v.ValidateProduct(fields)
	assert.ElementsMatch(t, []string{"shortDescription", "longDescription"}, fieldsOf(errs))
	for _, e := range errs {
		assert.Equal(t, "max", e.Tag)
		assert.NotEmpty(t, e.Message)
	}

	fields = validFields()
	fields.Quantity = -1
	assert.Equal(t, []string{"quantity"}, fieldsOf(v.ValidateProduct(fields)))
}

func TestProductValidator_Category(t *testing.T) {
	v := NewProductValidator()

	assert.Empty(t, v.ValidateCategory(&domain.Category{Name: "Toys"}))
	assert.Equal(t, []string{"name"}, fieldsOf(v.ValidateCategory(&domain.Category{})))
	assert.Equal(t, []string{"name"}, fieldsOf(v.ValidateCategory(&domain.Category{Name: strings.Repeat("x", 101)})))
}

func TestDecodeAndValidate(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{"name": ""})
	req := httptest.NewRequest("POST", "/api/categories", bytes.NewReader(body))

	var category domain.Category
	err := DecodeAndValidate(req, &category)
	assert.Error(t, err)

	errs := FormatValidationErrors(err)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "name", errs[0].Field)
		assert.Equal(t, "required", errs[0].Tag)
		assert.Equal(t, "This field is required", errs[0].Message)
	}

	req = httptest.NewRequest("POST", "/api/categories", strings.NewReader(`{not json`))
	err = DecodeAndValidate(req, &category)
	assert.Error(t, err)
	assert.Empty(t, FormatValidationErrors(err))
}
