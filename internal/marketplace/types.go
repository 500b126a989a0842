// Package marketplace accepts vendor registrations for the agency,
// freelancer and software marketplace.
package marketplace

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Listing types.
const (
	ListingAgency     = "agency"
	ListingFreelancer = "freelancer"
	ListingSoftware   = "software"
)

// StatusPending is the status of every new registration.
const StatusPending = "pending"

// RegistrationRequest is the public intake form.
type RegistrationRequest struct {
	CompanyName string   `json:"companyName" validate:"required,max=200"`
	ContactName string   `json:"contactName" validate:"required,max=200"`
	Email       string   `json:"email" validate:"required,email,max=254"`
	Phone       string   `json:"phone,omitempty" validate:"omitempty,max=40"`
	Website     string   `json:"website,omitempty" validate:"omitempty,url"`
	ListingType string   `json:"listingType" validate:"required,oneof=agency freelancer software"`
	TeamSize    int      `json:"teamSize,omitempty" validate:"required_if=ListingType agency,gte=0,lte=100000"`
	ProductURL  string   `json:"productUrl,omitempty" validate:"required_if=ListingType software,omitempty,url"`
	Categories  []string `json:"categories,omitempty" validate:"omitempty,max=10,dive,required,max=60"`
	Message     string   `json:"message,omitempty" validate:"omitempty,max=2000"`
	AcceptTerms bool     `json:"acceptTerms" validate:"eq=true"`
}

// normalize trims whitespace, lowercases the email and listing type, and
// drops blank categories.
func (r *RegistrationRequest) normalize() {
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.ContactName = strings.TrimSpace(r.ContactName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	r.Website = strings.TrimSpace(r.Website)
	r.ListingType = strings.ToLower(strings.TrimSpace(r.ListingType))
	r.ProductURL = strings.TrimSpace(r.ProductURL)
	r.Message = strings.TrimSpace(r.Message)

	cats := r.Categories[:0]
	for _, c := range r.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	if len(cats) == 0 {
		cats = nil
	}
	r.Categories = cats
}

// ValidationError lists the rejected fields by JSON name.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func toValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = reason(fe)
	}
	return out
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		_, listing, _ := strings.Cut(fe.Param(), " ")
		return fmt.Sprintf("is required for %s listings", listing)
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "eq":
		return "must be accepted"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must have at most " + fe.Param() + " entries"
		}
		return "must be at most " + fe.Param() + " characters"
	case "gte", "lte":
		return "is out of range"
	default:
		return "is invalid"
	}
}
