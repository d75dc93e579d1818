package stream

import "bytes"

// Frame is one SSE frame: id/event/data lines and a blank terminator.
type Frame struct {
	ID    string
	Event string
	Data  []byte
}

func (f Frame) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(len(f.ID) + len(f.Event) + len(f.Data) + 20)
	if f.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(f.ID)
		buf.WriteByte('\n')
	}
	buf.WriteString("event: ")
	buf.WriteString(f.Event)
	buf.WriteByte('\n')
	buf.WriteString("data: ")
	buf.Write(f.Data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}
