package domain

import "time"

// AlertState is derived from the lifecycle fields
type AlertState string

const (
	AlertStateOpen         AlertState = "open"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateResolved     AlertState = "resolved"
)

// Alert is a persisted finding that passed the cooldown check
type Alert struct {
	ID             string     `json:"id" bson:"_id"`
	UserID         string     `json:"user_id" bson:"user_id"`
	SiteID         string     `json:"site_id" bson:"site_id"`
	SiteName       string     `json:"site_name" bson:"site_name"`
	Type           AlertType  `json:"type" bson:"type"`
	Severity       Severity   `json:"severity" bson:"severity"`
	Title          string     `json:"title" bson:"title"`
	Message        string     `json:"message" bson:"message"`
	DeviceID       string     `json:"device_id,omitempty" bson:"device_id,omitempty"`
	DeviceName     string     `json:"device_name,omitempty" bson:"device_name,omitempty"`
	DeviceKey      string     `json:"device_key,omitempty" bson:"device_key,omitempty"`
	Value          *float64   `json:"value,omitempty" bson:"value,omitempty"`
	Threshold      *float64   `json:"threshold,omitempty" bson:"threshold,omitempty"`
	Timestamp      time.Time  `json:"timestamp" bson:"timestamp"`
	Acknowledged   bool       `json:"acknowledged" bson:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" bson:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty" bson:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
	AutoResolved   bool       `json:"auto_resolved,omitempty" bson:"auto_resolved,omitempty"`
}

// State returns where the alert is in its lifecycle
func (a Alert) State() AlertState {
	switch {
	case a.ResolvedAt != nil:
		return AlertStateResolved
	case a.Acknowledged:
		return AlertStateAcknowledged
	default:
		return AlertStateOpen
	}
}

// Resolved reports whether the alert reached its terminal state
func (a Alert) Resolved() bool {
	return a.ResolvedAt != nil
}

// Acknowledge stamps acknowledgement. Resolved alerts are left untouched.
func (a *Alert) Acknowledge(userID string, at time.Time) error {
	if a.Resolved() {
		return ErrAlertResolved
	}
	a.Acknowledged = true
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = userID
	return nil
}

// Resolve sets resolvedAt once. It returns false when already resolved.
func (a *Alert) Resolve(autoResolved bool, at time.Time) bool {
	if a.Resolved() {
		return false
	}
	a.ResolvedAt = &at
	a.AutoResolved = autoResolved
	return true
}

// AlertTitle names the alert for a rule family
func AlertTitle(t AlertType) string {
	switch t {
	case AlertInverter:
		return "Inverter fault"
	case AlertPVString:
		return "PV string fault"
	case AlertTemperature:
		return "High temperature"
	default:
		return "Device alert"
	}
}

// AlertFilter narrows alert queries
type AlertFilter struct {
	UserID         string
	SiteIDs        []string
	UnresolvedOnly bool
	Limit          int
}

// VisibleAlerts applies site visibility: fleet-wide roles see every alert,
// restricted roles only their assigned sites, unknown roles nothing.
func VisibleAlerts(alerts []Alert, role Role, assignedSites []string) []Alert {
	out := make([]Alert, 0, len(alerts))
	if role.FleetWide() {
		return append(out, alerts...)
	}
	if !role.Restricted() {
		return out
	}
	allowed := make(map[string]bool, len(assignedSites))
	for _, id := range assignedSites {
		allowed[id] = true
	}
	for _, a := range alerts {
		if allowed[a.SiteID] {
			out = append(out, a)
		}
	}
	return out
}

// Unacknowledged returns the unresolved alerts nobody acknowledged yet
func Unacknowledged(alerts []Alert) []Alert {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if !a.Resolved() && !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}
