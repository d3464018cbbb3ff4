package session

import "net/http"
import "net/url"

// Location represents the location of the sessionId
type Location struct {
	Name string
	Kind string
}

// Locator extracts a session id from, and writes one into, an HTTP
// request/query per a Location's Kind ("header" or "query").
type Locator interface {
	Locate(location *Location, request *http.Request) (string, error)
	Set(location *Location, values url.Values, id string) error
}

// NewLocation creates a new sessionIdLocation
func NewLocation(name, kind string) *Location {
	return &Location{
		Name: name,
		Kind: kind,
	}
}

// NewHeaderLocation creates a new sessionIdLocation for header
func NewHeaderLocation(name string) *Location {
	// Header sessionIdLocation
	return &Location{
		Name: name,
		Kind: "header",
	}
}

// NewQueryLocation creates a new sessionIdLocation for query
func NewQueryLocation(name string) *Location {
	// Query sessionIdLocation
	return &Location{
		Name: name,
		Kind: "query",
	}
}
