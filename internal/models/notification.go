package models

import "time"

type NotificationType string

const (
	NotificationAudit   NotificationType = "audit"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
)

// Notification lives in memory only
type Notification struct {
	ID        string
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
	Dismissed bool
}
