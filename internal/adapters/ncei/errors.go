package ncei

import (
	"fmt"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/ingestion"
)

// StatusError reports a download answered with a status other than 200.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ncei: %s returned status %d", e.URL, e.StatusCode)
}

// Is lets callers match any StatusError with ingestion.ErrNotAvailable.
func (e *StatusError) Is(target error) bool {
	return target == ingestion.ErrNotAvailable
}
