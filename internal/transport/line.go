package transport

import (
	"bytes"
	"fmt"
	"strings"
)

const lineTerminator = '\n'

func encodeLine(line string) ([]byte, error) {
	if strings.ContainsAny(line, "\r\n") {
		return nil, fmt.Errorf("line contains a line break: %q", line)
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, lineTerminator)

	return buf, nil
}

// trimLine strips the terminator, accepting both "\n" and "\r\n".
func trimLine(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	return strings.TrimSuffix(raw, "\r")
}

// cutLine splits the first complete line off buf.
func cutLine(buf []byte) (string, []byte, bool) {
	idx := bytes.IndexByte(buf, lineTerminator)
	if idx < 0 {
		return "", buf, false
	}
	line := trimLine(string(buf[:idx+1]))
	rest := buf[idx+1:]

	return line, rest, true
}
