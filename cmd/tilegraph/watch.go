package main

import (
	"context"
	"flag"

	"github.com/mohammed-shakir/tilegraph/internal/events"
)

func cmdWatch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	group := fs.String("group", e.cfg.Events.GroupID, "consumer group id")
	oldest := fs.Bool("from-start", false, "start from the oldest retained event when the group has no offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := events.NewConsumer(events.ConsumerConfig{
		Brokers:             e.cfg.Events.Brokers,
		Topic:               e.cfg.Events.Topic,
		GroupID:             *group,
		InitialOffsetOldest: *oldest,
	}, e.log, func(_ context.Context, ev events.Event) error {
		attrs := []any{"run_id", ev.RunID, "graph", ev.Graph, "ts", ev.TS}
		switch ev.Type {
		case events.RunStarted:
			e.log.Info("run started", append(attrs, "target", ev.Target)...)
		case events.RunFinished:
			e.log.Info("run finished", append(attrs,
				"tiles", ev.Tiles, "duration_ms", ev.DurationMS,
				"computed", ev.Computed, "hits", ev.Hits, "coalesced", ev.Coalesced)...)
		case events.RunFailed:
			e.log.Warn("run failed", append(attrs, "error", ev.Error)...)
		}
		return nil
	})
	e.log.Info("watching run events", "topic", e.cfg.Events.Topic, "group", *group)
	return c.Start(ctx)
}
