package jobs

import (
	"time"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/execution"
)

// connectionSettings derives the retry envelope of a job-issued call from
// the process-wide service defaults.
func connectionSettings(j *execution.Job) client.ConnectionSettings {
	settings := client.DefaultConnectionSettings()
	if j.Env.Services.ConnectionAttempts > 0 {
		settings.Attempts = j.Env.Services.ConnectionAttempts
	}
	if j.Env.Services.ConnectionWait > 0 {
		settings.Wait = time.Duration(j.Env.Services.ConnectionWait) * time.Second
	}
	return settings
}
