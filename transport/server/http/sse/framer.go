package sse

import "fmt"

// frameSSE formats the data as a complete SSE "message" event, terminated
// by the blank line the format requires.
func frameSSE(data []byte) []byte {
	expanded := fmt.Sprintf("event: message\ndata: %s\n\n", string(data))
	return []byte(expanded)
}
