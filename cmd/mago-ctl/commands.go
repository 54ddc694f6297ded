package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"mago-voice-backend/internal/config"
	"mago-voice-backend/internal/store"
)

// env is shared by the commands of one invocation.
type env struct {
	opts *Options
	out  io.Writer
}

// Run parses args, executes the selected command and returns the exit code.
func Run(args []string, out io.Writer) int {
	_ = godotenv.Load()
	opts := &Options{}
	e := &env{opts: opts, out: out}
	opts.Days.env, opts.Show.env, opts.Pin.env, opts.Unpin.env, opts.Sweep.env = e, e, e, e, e

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(out, err)
			return 0
		}
		fmt.Fprintln(out, "error:", err)
		return 1
	}
	return 0
}

func (e *env) open() (*store.ConversationStore, *store.Opened, error) {
	zone, err := config.Config{TimeZone: e.opts.TimeZone}.Location()
	if err != nil {
		return nil, nil, err
	}
	opened, err := store.Open(store.Settings{
		Kind:        e.opts.Backend,
		Path:        e.opts.Path,
		URL:         e.opts.URL,
		DatabaseURL: e.opts.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return store.NewConversationStore(opened.Backend, zone), opened, nil
}

func (e *env) run(fn func(ctx context.Context, s *store.ConversationStore) error) error {
	s, opened, err := e.open()
	if err != nil {
		return err
	}
	defer opened.Close()
	return fn(context.Background(), s)
}

type DaysCmd struct {
	env *env
}

func (c *DaysCmd) Execute(_ []string) error {
	return c.env.run(func(ctx context.Context, s *store.ConversationStore) error {
		days, err := s.ListDays(ctx)
		if err != nil {
			return err
		}
		pinned, err := s.PinnedDays(ctx)
		if err != nil {
			return err
		}
		isPinned := map[store.Day]bool{}
		for _, d := range pinned {
			isPinned[d] = true
		}
		for _, d := range days {
			if isPinned[d] {
				fmt.Fprintf(c.env.out, "%s\tpinned\n", d)
			} else {
				fmt.Fprintln(c.env.out, d)
			}
		}
		return nil
	})
}

type ShowCmd struct {
	env  *env
	JSON bool `long:"json" description:"print turns as JSON"`
	Args struct {
		Day string `positional-arg-name:"day" required:"yes"`
	} `positional-args:"yes"`
}

func (c *ShowCmd) Execute(_ []string) error {
	return c.env.run(func(ctx context.Context, s *store.ConversationStore) error {
		turns, err := s.GetDay(ctx, store.Day(c.Args.Day))
		if err != nil {
			return err
		}
		if c.JSON {
			enc := json.NewEncoder(c.env.out)
			enc.SetIndent("", "  ")
			return enc.Encode(turns)
		}
		for _, t := range turns {
			audio := t.AudioStatus()
			if t.Audio != nil {
				audio = t.Audio.Key
			}
			fmt.Fprintf(c.env.out, "%s [%s] %s\n  > %s\n  < %s\n",
				t.Timestamp.In(s.Zone()).Format("15:04:05"), t.Intent, audio, oneLine(t.Utterance), oneLine(t.Reply))
		}
		return nil
	})
}

type PinCmd struct {
	env  *env
	Args struct {
		Days []string `positional-arg-name:"day" required:"1"`
	} `positional-args:"yes"`
}

func (c *PinCmd) Execute(_ []string) error {
	return c.env.run(func(ctx context.Context, s *store.ConversationStore) error {
		for _, d := range c.Args.Days {
			if err := s.Pin(ctx, store.Day(d)); err != nil {
				return err
			}
			fmt.Fprintln(c.env.out, "pinned", d)
		}
		return nil
	})
}

type UnpinCmd struct {
	env  *env
	Args struct {
		Days []string `positional-arg-name:"day" required:"1"`
	} `positional-args:"yes"`
}

func (c *UnpinCmd) Execute(_ []string) error {
	return c.env.run(func(ctx context.Context, s *store.ConversationStore) error {
		for _, d := range c.Args.Days {
			if err := s.Unpin(ctx, store.Day(d)); err != nil {
				return err
			}
			fmt.Fprintln(c.env.out, "unpinned", d)
		}
		return nil
	})
}

type SweepCmd struct {
	env    *env
	MaxAge int      `long:"max-age" env:"RETENTION_MAX_AGE_DAYS" default:"30" description:"delete days older than this many days"`
	Keep   []string `long:"keep" description:"additional day or prefix to keep (repeatable)"`
}

func (c *SweepCmd) Execute(_ []string) error {
	return c.env.run(func(ctx context.Context, s *store.ConversationStore) error {
		report, err := s.Cleanup(ctx, store.RetentionPolicy{MaxAgeDays: c.MaxAge, PinnedDays: c.Keep})
		for _, d := range report.Deleted {
			fmt.Fprintln(c.env.out, "deleted", d)
		}
		fmt.Fprintf(c.env.out, "deleted %d, pinned %d, kept %d\n", len(report.Deleted), len(report.Pinned), report.Kept)
		return err
	})
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
