package storage

import "github.com/okbozin/okboz-crm-sub003/internal/session"

// Base keys of the registered collections.
const (
	StaffKey             = "staff_data"
	VendorKey            = "vendor_data"
	DocumentKey          = "office_documents"
	LeaveTypeKey         = "leave_types"
	HolidayKey           = "holidays"
	ShiftKey             = "shifts"
	LeadKey              = "leads_data"
	CorporateAccountsKey = "corporate_accounts"
)

// EffectiveKey returns the storage key of baseKey for tenant tc: the bare base key for
// head office, "{baseKey}_{tenantId}" for every scoped tenant.
func EffectiveKey(baseKey string, tc session.TenantContext) string {
	if tc.IsSuperAdmin || tc.TenantID == "" || tc.TenantID == session.SuperAdminID {
		return baseKey
	}
	return baseKey + "_" + tc.TenantID
}
