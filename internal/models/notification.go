package models

import "time"

// Notification is delivered to an admin's inbox when their request is resolved.
type Notification struct {
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link"`
	Icon      string    `json:"icon"`
	CreatedAt time.Time `json:"createdAt"`
}
