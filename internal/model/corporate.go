package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Corporate account statuses
const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
)

// ErrPartnerShareTotal is returned when configured partner shares do not add up to 100.
var ErrPartnerShareTotal = errors.New("partner shares must total 100%")

var hundred = decimal.NewFromInt(100)

// Partner is one revenue-share holder of a corporate account.
type Partner struct {
	Name  string  `json:"name" validate:"required"`
	Share float64 `json:"share" validate:"gt=0,lte=100"`
}

// CorporateAccount is a franchise/corporate tenant. Its email is the tenant id of its collections.
type CorporateAccount struct {
	ID          string    `json:"id" validate:"required"`
	CompanyName string    `json:"companyName" validate:"required"`
	Email       string    `json:"email" validate:"required,email"`
	Password    string    `json:"password,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	City        string    `json:"city,omitempty"`
	Status      string    `json:"status,omitempty" validate:"omitempty,oneof=Active Inactive"`
	CreatedAt   string    `json:"createdAt,omitempty"`
	Partners    []Partner `json:"partners,omitempty" validate:"omitempty,dive"`
}

// DisplayName is the label used when tagging this tenant's records.
func (a CorporateAccount) DisplayName() string {
	if strings.TrimSpace(a.CompanyName) != "" {
		return a.CompanyName
	}
	return a.Email
}

// PartnerTotal sums partner shares without float drift.
func (a CorporateAccount) PartnerTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Partners {
		total = total.Add(decimal.NewFromFloat(p.Share))
	}
	return total
}

// ValidatePartners enforces that shares total exactly 100 whenever any partner is configured.
func (a CorporateAccount) ValidatePartners() error {
	if len(a.Partners) == 0 {
		return nil
	}
	if total := a.PartnerTotal(); !total.Equal(hundred) {
		return fmt.Errorf("%w: got %s%%", ErrPartnerShareTotal, total.String())
	}
	return nil
}

// Normalize trims user-entered fields and lower-cases the email so it can serve as a tenant id.
func (a *CorporateAccount) Normalize() {
	a.CompanyName = strings.TrimSpace(a.CompanyName)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.Phone = strings.TrimSpace(a.Phone)
	a.City = strings.TrimSpace(a.City)
	for i := range a.Partners {
		a.Partners[i].Name = strings.TrimSpace(a.Partners[i].Name)
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
}
