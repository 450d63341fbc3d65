package request

// Host holds the request body for creating or updating a Proxmox host. On
// update an empty password keeps the stored one.
type Host struct {
	Name      string `json:"name" validate:"required,min=1,max=255"`
	Host      string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port      int    `json:"port" validate:"omitempty,min=1,max=65535"`
	User      string `json:"user" validate:"required"`
	Password  string `json:"password"`
	VerifyTLS bool   `json:"verify_tls"`
	SSHPort   int    `json:"ssh_port" validate:"omitempty,min=1,max=65535"`
	IsActive  *bool  `json:"is_active"`
	IsDefault bool   `json:"is_default"`
}
