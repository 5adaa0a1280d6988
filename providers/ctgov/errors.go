package ctgov

import "fmt"

// RemoteServiceError beschreibt eine fehlgeschlagene oder unbrauchbare Antwort
// der Registry. Solche Fehler sind fatal für den laufenden Abruf; die Pipeline
// macht keine automatischen Retries und überspringt keine Seiten.
type RemoteServiceError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ctgov %s: unexpected status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("ctgov %s: %v", e.Endpoint, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}
