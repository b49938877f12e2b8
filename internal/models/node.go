package models

import (
	"fmt"
	"time"
)

// Node represents a machine running a daemon instance that hosts servers
// (database model). The daemon authenticates callbacks to the panel with a
// bearer credential of the form "<TokenID>.<token>".
type Node struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string `gorm:"size:100;not null" json:"name"`
	FQDN string `gorm:"size:255;not null" json:"fqdn"`

	// Daemon connection details
	Scheme     string `gorm:"size:5;not null;default:'https'" json:"scheme"`
	DaemonPort int    `gorm:"not null;default:8080" json:"daemon_port"`

	// Daemon credential. TokenID identifies the credential, Token is the
	// secret half and is never exposed over the API.
	TokenID string `gorm:"size:16;not null;uniqueIndex" json:"-"`
	Token   string `gorm:"size:128;not null" json:"-"`

	// Relations
	Servers []Server `gorm:"foreignKey:NodeID" json:"-"`
}

// TableName specifies the table name
func (Node) TableName() string {
	return "nodes"
}

// BaseURL returns the root URL of the node's daemon API
func (n *Node) BaseURL() string {
	scheme := n.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.FQDN, n.DaemonPort)
}
