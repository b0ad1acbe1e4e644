package model

// NotificationStatus answers GET /api/notifications.
type NotificationStatus struct {
	HasNewMessages bool   `json:"hasNewMessages"`
	Channel        string `json:"channel"`
}
