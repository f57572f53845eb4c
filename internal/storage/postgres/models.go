package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/fundi/internal/security"
)

// AuditEventModel is the GORM model for one audit trail entry.
type AuditEventModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID   string    `gorm:"size:64;index"`
	Endpoint  string    `gorm:"size:64;index"`
	Action    string    `gorm:"size:64"`
	IP        string    `gorm:"size:64"`
	UserAgent string    `gorm:"size:256"`
	APIKey    string    `gorm:"size:16"`
	Status    int
	Result    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName sets the table name.
func (AuditEventModel) TableName() string { return "fundi_audit_events" }

func toAuditModel(event security.AuditEvent) AuditEventModel {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return AuditEventModel{
		ID:        uuid.New(),
		EventID:   event.ID,
		Endpoint:  event.Endpoint,
		Action:    event.Action,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		APIKey:    event.APIKey,
		Status:    event.Status,
		Result:    event.Result,
		CreatedAt: ts,
	}
}

func toAuditDomain(m *AuditEventModel) security.AuditEvent {
	return security.AuditEvent{
		Timestamp: m.CreatedAt,
		ID:        m.EventID,
		Endpoint:  m.Endpoint,
		Action:    m.Action,
		IP:        m.IP,
		UserAgent: m.UserAgent,
		APIKey:    m.APIKey,
		Status:    m.Status,
		Result:    m.Result,
	}
}
