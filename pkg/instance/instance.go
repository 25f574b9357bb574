package instance

import "os"

// GetID identifies the running process for logs and lock ownership. It
// prefers KIOSK_INSTANCE_ID, then the Heroku DYNO name, then the hostname.
func GetID() string {
	for _, key := range []string{"KIOSK_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
