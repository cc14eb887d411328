package feed

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", ...) and
// test with errors.Is. None of them is fatal to the process.
var (
	// ErrFetch marks a network, HTTP, GraphQL or parse failure of the remote query.
	ErrFetch = errors.New("fetch failed")

	// ErrStorage marks a failed durable write of the seen set. The id is still
	// treated as seen for the rest of the session.
	ErrStorage = errors.New("storage write failed")

	// ErrData marks duplicate or malformed ids in a fetch response.
	ErrData = errors.New("malformed fetch response")
)
