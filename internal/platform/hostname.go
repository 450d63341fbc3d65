package platform

import (
	"fmt"
	"regexp"
)

var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidHostname reports whether name is a single lowercase DNS label.
func ValidHostname(name string) bool {
	return hostnameRe.MatchString(name)
}

// AppURL builds the externally reachable URL for an application port.
// Example: http://pve.lan:8100
func AppURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d", host, port)
}
