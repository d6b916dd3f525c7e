package agent

import (
	"bytes"
	"net/http"
	"strings"

	engine "overlay-backend/internal/agent"
)

// FormatSSE 按 SSE 帧格式编码一个事件
//
//	event: <name>\n   （name 为空时省略）
//	data: <line>\n    （负载的每一行）
//	\n
func FormatSSE(event string, data []byte) []byte {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	for _, line := range splitLines(string(data)) {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// splitLines 按 \n、\r\n、\r 切分，末尾换行不产生空行
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// sseSink 把推送事件写成 SSE 帧并立即 Flush
func sseSink(w http.ResponseWriter, flusher http.Flusher) engine.Sink {
	return func(kind string, data []byte) error {
		event := ""
		if kind == engine.EventStatus {
			event = engine.EventStatus
		}
		if _, err := w.Write(FormatSSE(event, data)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
}
