package handlers

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// upgradeWriter lets websocket.Accept hijack a gin connection. gin refuses
// to hijack once its header is flushed, so the status line is held back and
// written on the raw connection after the hijack.
type upgradeWriter struct {
	w      gin.ResponseWriter
	status int
}

func newUpgradeWriter(w gin.ResponseWriter) *upgradeWriter {
	return &upgradeWriter{w: w}
}

func (u *upgradeWriter) Header() http.Header { return u.w.Header() }

func (u *upgradeWriter) Write(b []byte) (int, error) { return u.w.Write(b) }

// WriteHeader only records the status; gin keeps it for the access log.
func (u *upgradeWriter) WriteHeader(code int) {
	u.status = code
	u.w.WriteHeader(code)
}

func (u *upgradeWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := u.w.Hijack()
	if err != nil {
		return nil, nil, err
	}

	status := u.status
	if status == 0 {
		status = http.StatusSwitchingProtocols
	}
	if err := writeStatus(brw.Writer, status, u.w.Header()); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("write upgrade response: %w", err)
	}
	return conn, brw, nil
}

func writeStatus(w *bufio.Writer, status int, h http.Header) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	if err := h.Write(w); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}
