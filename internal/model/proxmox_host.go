package model

import "time"

// ProxmoxHost is a Proxmox VE cluster endpoint and its credentials.
type ProxmoxHost struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	User      string    `json:"user"`
	Password  string    `json:"-"`
	VerifyTLS bool      `json:"verify_tls"`
	SSHPort   int       `json:"ssh_port"`
	IsActive  bool      `json:"is_active"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
