// Package ui implements the plain-terminal reference UI: a pure
// consumer of the Node's event channel and a pure producer of
// user-typed lines into Node.Submit. It holds no replication state and
// never branches on anything the core does internally (SPEC_FULL.md
// §9, §10) — any other UI could replace it without touching chatmesh.
package ui

import (
	"bufio"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

// Submitter is the one method the UI needs from a Node.
type Submitter interface {
	Submit(line string)
}

// Plain runs a blocking read loop over in, calling submit.Submit for
// every non-empty line, until in reaches EOF or stop is closed.
func Plain(in io.Reader, submit Submitter, stop <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line != "" {
				submit.Submit(line)
			}
		case <-stop:
			return
		}
	}
}

// RenderEvents drains events and writes one colorized line per event to
// out until events is closed or stop fires. info is cyan, error is red,
// user_message is the default foreground, ack is dim — a cosmetic
// choice, not a normative part of the event contract.
func RenderEvents(out io.Writer, events <-chan types.Event, stop <-chan struct{}) {
	info := color.New(color.FgCyan)
	errc := color.New(color.FgRed)
	ack := color.New(color.Faint)

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case types.EventInfo:
				info.Fprintln(out, e.Content)
			case types.EventError:
				errc.Fprintln(out, e.Content)
			case types.EventUserMessage:
				fmt.Fprintf(out, "%s: %s\n", e.Sender, e.Content)
			case types.EventAck:
				ack.Fprintf(out, "%s acked %q\n", e.Sender, e.Message)
			}
		case <-stop:
			return
		}
	}
}
