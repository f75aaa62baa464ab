package landing

import (
	"errors"

	"github.com/hazyhaar/lander/landing/internal/generate"
	"github.com/hazyhaar/lander/landing/internal/store"
)

var (
	// ErrPublish wraps a snapshot publish failure. The cycle's earlier
	// decisions are already committed.
	ErrPublish = errors.New("landing: snapshot publish failed")

	// ErrUnauthorized is returned for a missing or wrong admin secret.
	ErrUnauthorized = errors.New("landing: unauthorized")

	// ErrCycleBusy is returned when another runner holds the cycle lease.
	ErrCycleBusy = errors.New("landing: cycle already running")

	// ErrNoExperiment is returned by operations that need a running experiment.
	ErrNoExperiment = errors.New("landing: no running experiment")

	// ErrRunningExists is returned when starting while another experiment runs.
	ErrRunningExists = store.ErrRunningExists

	// ErrNoProvider is the generation failure recorded when no provider
	// credentials are configured.
	ErrNoProvider = generate.ErrNoProvider
)
