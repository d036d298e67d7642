package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1024 * 1024

// event is one dispatched text/event-stream record
type event struct {
	name string
	data string
}

// readEvents scans r and calls dispatch for every complete event. It returns
// the scanner error, or nil when the stream ended cleanly.
func readEvents(r io.Reader, dispatch func(event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var name string
	var data strings.Builder
	hasData := false

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if hasData {
				if name == "" {
					name = "message"
				}
				dispatch(event{name: name, data: strings.TrimSuffix(data.String(), "\n")})
			}
			name = ""
			data.Reset()
			hasData = false
			continue
		}

		// Comment lines keep proxies from closing idle connections
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id", "retry":
			// reconnect timing is owned by the subscription
		}
	}

	return scanner.Err()
}
