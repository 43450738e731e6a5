package database

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// ConnectNATS connects to the event broker. An empty URL is not an error:
// eventing is optional and callers treat a nil connection as disabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url, nats.Name("deckquiz-api"))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats: %w", err)
	}

	return conn, nil
}
