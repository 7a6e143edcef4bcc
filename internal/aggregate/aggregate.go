// Package aggregate builds the super-admin view of a collection across head office
// and every corporate tenant.
package aggregate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/internal/session"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
	"go.uber.org/zap"
)

// ErrNotSuperAdmin is returned when a scoped tenant asks for the aggregate view.
var ErrNotSuperAdmin = errors.New("aggregate: super admin only")

// Tenant is one source partition of an aggregate view.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Context returns the tenant context whose scoped key holds this tenant's records.
func (t Tenant) Context() session.TenantContext {
	if t.ID == session.SuperAdminID {
		return session.SuperAdmin()
	}
	return session.Corporate(t.ID)
}

// HeadOffice is the head-office tenant.
func HeadOffice() Tenant {
	return Tenant{ID: session.SuperAdminID, Name: session.HeadOfficeName}
}

// Tagged is a record labelled with the tenant it was read from.
type Tagged[T any] struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	Record     T      `json:"record"`
}

// IsHeadOffice reports whether the record belongs to head office.
func (t Tagged[T]) IsHeadOffice() bool {
	return t.TenantID == session.SuperAdminID
}

// Aggregator reads one collection across tenants.
type Aggregator[T any] struct {
	coll       *storage.Collection[T]
	corporates *storage.Collection[model.CorporateAccount]
	log        *zap.Logger
}

func New[T any](coll *storage.Collection[T], corporates *storage.Collection[model.CorporateAccount], log *zap.Logger) *Aggregator[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator[T]{coll: coll, corporates: corporates, log: log.With(zap.String("collection", coll.Name()))}
}

// Tenants lists head office followed by every corporate account in stored order.
// Repeated emails are kept, so their records appear once per listing.
func (a *Aggregator[T]) Tenants(ctx context.Context) []Tenant {
	accounts := a.corporates.Read(ctx, session.SuperAdmin())
	tenants := make([]Tenant, 0, len(accounts)+1)
	tenants = append(tenants, HeadOffice())

	seen := make(map[string]struct{}, len(accounts))
	for _, acct := range accounts {
		email := strings.TrimSpace(acct.Email)
		if email == "" {
			a.log.Warn("Skipping corporate account without email", zap.String("corporate_id", acct.ID))
			continue
		}
		if _, dup := seen[email]; dup {
			a.log.Warn("Corporate email listed more than once; its records will repeat",
				zap.String("email", email),
				zap.String("corporate_id", acct.ID))
		}
		seen[email] = struct{}{}
		tenants = append(tenants, Tenant{ID: email, Name: acct.DisplayName()})
	}
	return tenants
}

// Aggregate returns head-office records first, then each corporate tenant's records.
func (a *Aggregator[T]) Aggregate(ctx context.Context, tc session.TenantContext) ([]Tagged[T], error) {
	if !tc.IsSuperAdmin {
		return nil, ErrNotSuperAdmin
	}
	return a.AggregateTenants(ctx, tc, a.Tenants(ctx))
}

// AggregateTenants reads the given tenants in order.
func (a *Aggregator[T]) AggregateTenants(ctx context.Context, tc session.TenantContext, tenants []Tenant) ([]Tagged[T], error) {
	if !tc.IsSuperAdmin {
		return nil, ErrNotSuperAdmin
	}
	defer prometheus.TrackAggregate(a.coll.Name())(time.Now())

	out := make([]Tagged[T], 0)
	for _, tenant := range tenants {
		for _, record := range a.coll.Read(ctx, tenant.Context()) {
			out = append(out, Tagged[T]{TenantID: tenant.ID, TenantName: tenant.Name, Record: record})
		}
	}
	a.log.Debug("Aggregated collection", zap.Int("tenants", len(tenants)), zap.Int("records", len(out)))
	return out, nil
}

// SaveHeadOffice writes back only the head-office records of an aggregate view.
// Records tagged with any other tenant are dropped.
func (a *Aggregator[T]) SaveHeadOffice(ctx context.Context, tc session.TenantContext, tagged []Tagged[T]) (bool, error) {
	if !tc.IsSuperAdmin {
		return false, ErrNotSuperAdmin
	}
	records := HeadOfficeRecords(tagged)
	if dropped := len(tagged) - len(records); dropped > 0 {
		a.log.Debug("Dropping tenant records from head-office save", zap.Int("dropped", dropped))
	}
	return a.coll.Write(ctx, session.SuperAdmin(), records)
}

// HeadOfficeRecords filters tagged down to the head-office subset, untagged.
func HeadOfficeRecords[T any](tagged []Tagged[T]) []T {
	records := make([]T, 0, len(tagged))
	for _, t := range tagged {
		if t.IsHeadOffice() {
			records = append(records, t.Record)
		}
	}
	return records
}
