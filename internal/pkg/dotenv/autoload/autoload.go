// Package autoload loads .env from the working directory on import.
package autoload

import (
	"pt100-monitor/internal/logging"
	"pt100-monitor/internal/pkg/dotenv"
)

func init() {
	if err := dotenv.Load(); err != nil {
		logging.New("warn", logging.WithService("autoload")).Warn("dotenv autoload failed", "error", err)
	}
}
