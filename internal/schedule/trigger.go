package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"boletobot/internal/sender"
	"boletobot/pkg/logx"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a spec and timezone without starting anything.
func Validate(raw, tz string) error {
	spec, err := Parse(raw)
	if err != nil {
		return err
	}
	if _, err := loadLocation(tz); err != nil {
		return err
	}
	if spec.Kind == KindCron {
		if _, err := parser.Parse(spec.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
		}
	}
	return nil
}

// Trigger calls run on a schedule. Ticks that find a run still in progress
// are skipped.
type Trigger struct {
	spec Spec
	c    *cron.Cron
	id   cron.EntryID
	log  logx.Logger
}

func New(raw, tz string, run func(ctx context.Context) error, log logx.Logger) (*Trigger, error) {
	spec, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}
	log = log.With(logx.String("comp", "schedule"))
	cl := cronLogger{log: log}
	t := &Trigger{
		spec: spec,
		log:  log,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	job := cron.FuncJob(func() {
		// scheduled runs have no caller to cancel them
		err := run(context.Background())
		switch {
		case errors.Is(err, sender.ErrRunInProgress):
			log.Info("scheduled send skipped; run in progress")
		case err != nil:
			log.Warn("scheduled send failed", logx.Err(err))
		}
	})

	if spec.Kind == KindInterval {
		t.id = t.c.Schedule(cron.Every(spec.Every), job)
	} else if t.id, err = t.c.AddJob(spec.Cron, job); err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
	}
	return t, nil
}

func (t *Trigger) Spec() Spec { return t.spec }

func (t *Trigger) Start() {
	t.c.Start()
	t.log.Info("schedule started", logx.String("spec", t.spec.String()), logx.Time("next", t.Next()))
}

// Next is the upcoming fire time, zero before Start.
func (t *Trigger) Next() time.Time {
	return t.c.Entry(t.id).Next
}

// Stop prevents new ticks and waits for a running one up to ctx.
func (t *Trigger) Stop(ctx context.Context) error {
	done := t.c.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
