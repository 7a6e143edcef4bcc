// Package model holds the record schemas of every scoped collection.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is shared by all schema checks; validator caches struct metadata per instance.
var Validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidRecord wraps every schema validation failure.
var ErrInvalidRecord = errors.New("invalid record")

// Ownership is the denormalised tenant tag carried by tenant-owned records.
type Ownership struct {
	CorporateID   string `json:"corporateId,omitempty"`
	FranchiseName string `json:"franchiseName,omitempty"`
}

// Check validates record against its struct tags.
func Check(record any) error {
	err := Validate.Struct(record)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(fields, ", "))
}
