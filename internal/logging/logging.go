// Package logging constructs the process-wide structured logger.
package logging

import "go.uber.org/zap"

// New builds a production zap logger, or a console-friendly development
// logger when dev is true (LOG_DEV=1 in the entrypoints).
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
