package instance

import "os"

const fallbackID = "worker-0"

// ID identifies this worker process in logs and lock ownership values.
// WORKER_ID wins, then the hostname.
func ID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
