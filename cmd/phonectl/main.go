package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sebas/agentphone/internal/softphone/apiclient"
	"github.com/sebas/agentphone/internal/softphone/history"
	"github.com/sebas/agentphone/internal/softphone/phone"
	"github.com/sebas/agentphone/internal/softphone/session"
)

const usage = `Usage: phonectl [-addr URL] [-json] <command> [args]

Commands:
  status               Show device health and the current call
  dial <number>        Place an outbound call
  answer               Answer the ringing call
  reject               Decline the ringing call
  end                  Hang up the current call
  mute                 Toggle mute
  hold                 Toggle hold
  incoming             Show the ringing call, if any
  calls [flags]        List call history (-direction, -status, -q, -page, -size)
  stats                Show call history counters
`

func main() {
	addr := flag.String("addr", envOr("AGENTPHONE_API", "http://localhost:8080"), "Softphone API base URL")
	asJSON := flag.Bool("json", false, "Print raw JSON")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c := &cli{client: apiclient.New(*addr), out: os.Stdout, json: *asJSON}
	if err := c.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "phonectl: %v\n", err)
		var se *apiclient.StatusError
		if errors.As(err, &se) && se.Code < 500 {
			os.Exit(1)
		}
		os.Exit(3)
	}
}

type cli struct {
	client *apiclient.Client
	out    io.Writer
	json   bool
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "status":
		return c.status(ctx)
	case "dial":
		if len(args) != 1 {
			return errors.New("dial takes exactly one number")
		}
		st, err := c.client.Dial(ctx, args[0])
		if err != nil {
			return err
		}
		return c.printState(st)
	case "answer", "reject", "end":
		return c.action(ctx, cmd)
	case "mute":
		muted, err := c.client.ToggleMute(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "muted: %t\n", muted)
		return nil
	case "hold":
		onHold, err := c.client.ToggleHold(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "on hold: %t\n", onHold)
		return nil
	case "incoming":
		n, err := c.client.Incoming(ctx)
		if err != nil {
			return err
		}
		if n == nil {
			fmt.Fprintln(c.out, "no incoming call")
			return nil
		}
		if c.json {
			return c.printJSON(n)
		}
		fmt.Fprintf(c.out, "%s calling %s (%s)\n", phone.FormatUS(n.From), n.To, n.CallID)
		return nil
	case "calls":
		return c.calls(ctx, args)
	case "stats":
		st, err := c.client.CallStats(ctx)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(st)
		}
		fmt.Fprintf(c.out, "total %d  completed %d  missed %d  voicemail %d  active %d\n",
			st.Total, st.Completed, st.Missed, st.Voicemail, st.Active)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) status(ctx context.Context) error {
	h, err := c.client.Health(ctx)
	if err != nil {
		return err
	}
	st, err := c.client.Call(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(map[string]any{"health": h, "call": st})
	}
	fmt.Fprintf(c.out, "device: %s (%s, up %ds)\n", h.DeviceState, h.Status, h.Uptime)
	if st == nil {
		fmt.Fprintln(c.out, "call:   idle")
		return nil
	}
	return c.printState(st)
}

func (c *cli) action(ctx context.Context, name string) error {
	var (
		st  *session.CallState
		err error
	)
	switch name {
	case "answer":
		st, err = c.client.Answer(ctx)
	case "reject":
		st, err = c.client.Reject(ctx)
	default:
		st, err = c.client.End(ctx)
	}
	if err != nil {
		return err
	}
	return c.printState(st)
}

func (c *cli) calls(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("calls", flag.ContinueOnError)
	direction := fs.String("direction", "", "inbound or outbound")
	status := fs.String("status", "", "active, completed, missed or unanswered")
	query := fs.String("q", "", "Search numbers, direction and reason")
	page := fs.Int("page", 1, "Page number")
	size := fs.Int("size", 25, "Page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := c.client.Calls(ctx, history.Filter{
		Direction: *direction,
		Status:    *status,
		Query:     *query,
		Page:      *page,
		PageSize:  *size,
	})
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(p)
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tDIRECTION\tFROM\tTO\tSTATUS\tTALK")
	for _, r := range p.Calls {
		status := r.Status
		if r.HasVoicemail {
			status += " (voicemail)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("Jan 02 15:04"),
			r.Direction,
			phone.FormatUS(r.FromNumber),
			phone.FormatUS(r.ToNumber),
			status,
			(time.Duration(r.TalkSeconds) * time.Second).String(),
		)
	}
	tw.Flush()
	fmt.Fprintf(c.out, "page %d, %d of %d calls\n", p.Page, len(p.Calls), p.Total)
	return nil
}

func (c *cli) printState(st *session.CallState) error {
	if c.json {
		return c.printJSON(st)
	}
	peer := st.To
	if st.Direction == session.DirectionInbound {
		peer = st.From
	}
	fmt.Fprintf(c.out, "call:   %s %s %s", st.Phase, st.Direction, phone.FormatUS(peer))
	if st.IsConnected {
		fmt.Fprintf(c.out, " %s", (time.Duration(st.Duration) * time.Second).String())
	}
	if st.IsMuted {
		fmt.Fprint(c.out, " [muted]")
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
