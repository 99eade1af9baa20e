package service

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

var ErrInvalidForm = errors.New("form has invalid fields")

// Form field names shared by the checkout and subscription forms.
const (
	FieldName    = "name"
	FieldEmail   = "email"
	FieldPhone   = "phone"
	FieldAddress = "address"
	FieldZip     = "zip"
	FieldCity    = "city"
	FieldPayment = "payment"

	HoneypotField = "bot_field"
)

type FieldStatus string

const (
	FieldEmpty   FieldStatus = "empty"
	FieldValid   FieldStatus = "valid"
	FieldInvalid FieldStatus = "invalid"
)

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern   = regexp.MustCompile(`^\+?\d{8,15}$`)
	zipPattern     = regexp.MustCompile(`^\d{5}$`)
	digitPattern   = regexp.MustCompile(`\d`)
	phoneSeparator = regexp.MustCompile(`[\s-]`)
	whitespace     = regexp.MustCompile(`\s`)
)

// Validation maps each checked field to its status.
type Validation map[string]FieldStatus

func (v Validation) OK() bool {
	for _, s := range v {
		if s != FieldValid {
			return false
		}
	}
	return true
}

// ValidationError carries the per-field statuses of a rejected form.
type ValidationError struct {
	Fields Validation
}

func (e *ValidationError) Error() string {
	var bad []string
	for f, s := range e.Fields {
		if s != FieldValid {
			bad = append(bad, f)
		}
	}
	sort.Strings(bad)
	return ErrInvalidForm.Error() + ": " + strings.Join(bad, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidForm
}

func NormalizeZip(zip string) string {
	return whitespace.ReplaceAllString(zip, "")
}

func ValidZip(zip string) bool {
	return zipPattern.MatchString(NormalizeZip(zip))
}

func EmailStatus(email string) FieldStatus {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return FieldEmpty
	case emailPattern.MatchString(email):
		return FieldValid
	}
	return FieldInvalid
}

func PhoneStatus(phone string) FieldStatus {
	phone = phoneSeparator.ReplaceAllString(phone, "")
	switch {
	case phone == "":
		return FieldEmpty
	case phonePattern.MatchString(phone):
		return FieldValid
	}
	return FieldInvalid
}

// AddressStatus wants at least five characters including a house number.
func AddressStatus(address string) FieldStatus {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return FieldEmpty
	case len([]rune(address)) >= 5 && digitPattern.MatchString(address):
		return FieldValid
	}
	return FieldInvalid
}

func ZipStatus(zip string) FieldStatus {
	switch {
	case NormalizeZip(zip) == "":
		return FieldEmpty
	case ValidZip(zip):
		return FieldValid
	}
	return FieldInvalid
}

// ValidateDelivery checks the contact and delivery fields of an order form.
func ValidateDelivery(fields map[string]string) Validation {
	return Validation{
		FieldEmail:   EmailStatus(fields[FieldEmail]),
		FieldPhone:   PhoneStatus(fields[FieldPhone]),
		FieldAddress: AddressStatus(fields[FieldAddress]),
		FieldZip:     ZipStatus(fields[FieldZip]),
	}
}

func isBot(fields map[string]string) bool {
	return fields[HoneypotField] != ""
}

// customerFields drops the honeypot before anything is forwarded.
func customerFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == HoneypotField {
			continue
		}
		out[k] = v
	}
	return out
}
