package main

import (
	"fmt"
	"io"
	"time"

	"github.com/ashureev/questline/internal/domain"
	"github.com/dustin/go-humanize"
)

// formatMessage renders one chat line, marking the caller's own messages.
func formatMessage(m domain.Message, self domain.ID, now time.Time) string {
	who := "user " + m.SenderID.String()
	if m.SenderID == self {
		who = "you"
	}
	return fmt.Sprintf("[%s] %s: %s", humanize.RelTime(m.SentAt, now, "ago", "from now"), who, m.Text)
}

func printSession(w io.Writer, s domain.Session) {
	if !s.Authenticated() {
		fmt.Fprintf(w, "Status: %s\n", s.Status)
		return
	}
	name := "(profile unavailable)"
	if s.User != nil {
		name = s.User.Username
	}
	fmt.Fprintf(w, "Status: %s\nUser:   %s (id %s)\n", s.Status, name, s.UserID)
	if !s.IsConnected {
		fmt.Fprintln(w, "Network: offline")
	}
}
