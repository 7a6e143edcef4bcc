package model

// Employee is a staff member of head office or of one corporate tenant.
type Employee struct {
	ID          string   `json:"id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Role        string   `json:"role,omitempty"`
	Department  string   `json:"department,omitempty"`
	Email       string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string   `json:"phone,omitempty"`
	JoiningDate string   `json:"joiningDate,omitempty"`
	Salary      float64  `json:"salary,omitempty" validate:"gte=0"`
	Status      string   `json:"status,omitempty"`
	Branch      string   `json:"branch,omitempty"`
	Lat         *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lng         *float64 `json:"lng,omitempty" validate:"omitempty,longitude"`
	Ownership
}

// Vendor is a supplier attached to a tenant.
type Vendor struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	OwnerName string `json:"ownerName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	City      string `json:"city,omitempty"`
	Category  string `json:"category,omitempty"`
	Status    string `json:"status,omitempty"`
	Ownership
}

// Document is an uploaded office or employee document. URL may be a remote URL or an inline data URL.
type Document struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Category   string `json:"category,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
	URL        string `json:"url,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	Size       int64  `json:"size,omitempty" validate:"gte=0"`
	UploadedAt string `json:"uploadedAt,omitempty"`
	Ownership
}

// LeaveType is a leave category configured per tenant.
type LeaveType struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Days   int    `json:"days" validate:"gte=0"`
	IsPaid bool   `json:"isPaid"`
	Ownership
}

// Holiday is a calendar holiday configured per tenant.
type Holiday struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Type string `json:"type,omitempty"`
	Ownership
}

// Shift is a working shift template, times as HH:MM.
type Shift struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Start string `json:"start" validate:"required,datetime=15:04"`
	End   string `json:"end" validate:"required,datetime=15:04"`
	Ownership
}

// Lead is a sales lead.
type Lead struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
	Source string `json:"source,omitempty"`
	Status string `json:"status,omitempty"`
	Notes  string `json:"notes,omitempty"`
	Ownership
}

// MapMarker is what a map provider needs to place one staff member.
type MapMarker struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Role string  `json:"role"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// StaffMarkers returns markers for the employees that have a location.
func StaffMarkers(staff []Employee) []MapMarker {
	markers := make([]MapMarker, 0, len(staff))
	for _, e := range staff {
		if e.Lat == nil || e.Lng == nil {
			continue
		}
		markers = append(markers, MapMarker{ID: e.ID, Name: e.Name, Role: e.Role, Lat: *e.Lat, Lng: *e.Lng})
	}
	return markers
}
