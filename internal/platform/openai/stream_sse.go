package openai

import (
	"bufio"
	"io"
	"strings"
)

// streamSSE reads a Server-Sent Events body and invokes handle once per
// event with its event name (possibly empty) and accumulated data payload.
// A non-nil error from handle stops the stream.
func streamSSE(r io.Reader, handle func(event string, data string) error) error {
	reader := bufio.NewReader(r)

	var event string
	var data strings.Builder

	flush := func() error {
		if data.Len() == 0 && event == "" {
			return nil
		}
		err := handle(event, data.String())
		event = ""
		data.Reset()
		return err
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if fErr := flush(); fErr != nil {
					return fErr
				}
			case strings.HasPrefix(line, ":"):
				// comment / keepalive
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
		if err != nil {
			if err == io.EOF {
				return flush()
			}
			return err
		}
	}
}
