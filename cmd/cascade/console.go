package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/matt0x6f/cascade-core/internal/events"
	"github.com/matt0x6f/cascade-core/internal/irc"
	"github.com/matt0x6f/cascade-core/internal/logger"
	"github.com/matt0x6f/cascade-core/internal/storage"
)

const timeLayout = "15:04"

// Console prints bus events as text and tracks the current network and target.
type Console struct {
	out     io.Writer
	mu      sync.Mutex
	network string
	target  string
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Network() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.network
}

func (c *Console) SetNetwork(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.network = name
}

func (c *Console) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Console) SetTarget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = target
}

func (c *Console) Println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// OnEvent implements events.Subscriber
func (c *Console) OnEvent(event events.Event) {
	line, ok := formatEvent(event)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Follow our own joins so plain text goes to the newest channel.
	switch ev := event.Payload.(type) {
	case irc.JoinEvent:
		if ev.Self && strings.EqualFold(event.Handle.Network, c.network) {
			c.target = ev.Channel
		}
	case irc.PartEvent:
		if ev.Self && strings.EqualFold(ev.Channel, c.target) {
			c.target = ""
		}
	}

	fmt.Fprintf(c.out, "%s [%s] %s\n", event.Timestamp.Format(timeLayout), event.Handle.Network, line)
}

func formatEvent(event events.Event) (string, bool) {
	switch ev := event.Payload.(type) {
	case irc.MessageEvent:
		return formatMessage(ev), true
	case irc.NoticeEvent:
		if ev.From != "" {
			return fmt.Sprintf("-%s- %s", ev.From, ev.Text), true
		}
		return "-!- " + ev.Text, true
	case irc.TopicEvent:
		if ev.SetBy != "" {
			return fmt.Sprintf("-!- %s topic: %s (set by %s)", ev.Channel, ev.Topic, ev.SetBy), true
		}
		return fmt.Sprintf("-!- %s topic: %s", ev.Channel, ev.Topic), true
	case irc.JoinEvent:
		return fmt.Sprintf("-!- %s has joined %s", ev.Nick, ev.Channel), true
	case irc.PartEvent:
		switch {
		case ev.KickedBy != "":
			return fmt.Sprintf("-!- %s was kicked from %s by %s (%s)", ev.Nick, ev.Channel, ev.KickedBy, ev.Reason), true
		case ev.Reason != "":
			return fmt.Sprintf("-!- %s has left %s (%s)", ev.Nick, ev.Channel, ev.Reason), true
		}
		return fmt.Sprintf("-!- %s has left %s", ev.Nick, ev.Channel), true
	case irc.QuitEvent:
		return fmt.Sprintf("-!- %s has quit (%s)", ev.Nick, ev.Reason), true
	case irc.NickEvent:
		return fmt.Sprintf("-!- %s is now known as %s", ev.Old, ev.New), true
	case irc.RosterEvent:
		names := make([]string, len(ev.Members))
		for i, m := range ev.Members {
			names[i] = m.Nick
		}
		return fmt.Sprintf("-!- %s: %d users: %s", ev.Channel, len(names), strings.Join(names, " ")), true
	case irc.StateEvent:
		return formatState(ev), true
	}
	return "", false
}

func formatMessage(ev irc.MessageEvent) string {
	prefix := ""
	if !ev.Private || ev.Outgoing {
		prefix = ev.Target + " "
	}
	switch {
	case ev.Action:
		return fmt.Sprintf("%s* %s %s", prefix, ev.From.Nick, ev.Text)
	case ev.Notice:
		return fmt.Sprintf("%s-%s- %s", prefix, ev.From.Nick, ev.Text)
	}
	return fmt.Sprintf("%s<%s> %s", prefix, ev.From.Nick, ev.Text)
}

func formatState(ev irc.StateEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-!- %s", ev.Phase)
	if ev.Server != "" {
		fmt.Fprintf(&b, " %s", ev.Server)
	}
	if ev.Err != nil {
		fmt.Fprintf(&b, ": %v", ev.Err)
	}
	if ev.RetryIn > 0 {
		fmt.Fprintf(&b, " (retry %d in %s)", ev.Attempt, ev.RetryIn.Round(time.Second))
	}
	return b.String()
}

func formatHistory(m storage.Message) string {
	ts := m.Timestamp.Format("2006-01-02 " + timeLayout)
	switch m.MessageType {
	case storage.MessageTypeAction:
		return fmt.Sprintf("%s * %s %s", ts, m.User, m.Message)
	case storage.MessageTypeNotice:
		return fmt.Sprintf("%s -%s- %s", ts, m.User, m.Message)
	}
	return fmt.Sprintf("%s <%s> %s", ts, m.User, m.Message)
}

// notifyHighlight raises a desktop notification for messages mentioning us
func notifyHighlight(event events.Event) {
	ev, ok := event.Payload.(irc.MessageEvent)
	if !ok || ev.Outgoing || !(ev.Highlight || ev.Private) {
		return
	}

	title := fmt.Sprintf("Cascade - %s", event.Handle.Network)
	body := fmt.Sprintf("%s: %s", ev.From.Nick, ev.Text)
	if len(body) > 100 {
		body = body[:97] + "..."
	}
	if err := beeep.Notify(title, body, ""); err != nil {
		logger.Log.Debug().Err(err).Msg("Failed to send desktop notification")
	}
}
