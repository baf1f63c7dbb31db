// Package traceid mints the opaque trace identity that flows through every
// queue payload and persisted record for one document.
package traceid

import "github.com/google/uuid"

// New mints a fresh trace id. Called exactly once per claim, by the manager.
func New() string {
	return uuid.NewString()
}
