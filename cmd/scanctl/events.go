package main

import (
	"bufio"
	"io"
	"strings"
)

type eventDecoder struct {
	scanner *bufio.Scanner
}

func newEventDecoder(r io.Reader) *eventDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &eventDecoder{scanner: scanner}
}

// next returns the next complete event. Comment lines are skipped and
// multi-line data is joined with newlines.
func (d *eventDecoder) next() (sseEvent, error) {
	var ev sseEvent
	var data []string
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if ev.Name == "" && len(data) == 0 {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := d.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if ev.Name != "" || len(data) > 0 {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return sseEvent{}, io.EOF
}
