package storage

import "time"

// Connection is a stored data-source connection. The password is sealed by
// the API before it reaches the database; Database doubles as the file path
// for sqlite sources.
type Connection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	User        string    `json:"user"`
	PasswordEnc string    `json:"-"`
	Database    string    `json:"database"`
	SSLMode     string    `json:"sslMode,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
