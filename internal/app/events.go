package app

import (
	"context"

	"boletobot/internal/eventbus"
	"boletobot/internal/session"
	"boletobot/pkg/logx"
)

// sessionMessenger always targets the live session; Logout swaps it.
type sessionMessenger struct{ a *App }

func (m sessionMessenger) SendText(ctx context.Context, remoteID, text string) error {
	return m.a.session().SendText(ctx, remoteID, text)
}

func (m sessionMessenger) SendDocument(ctx context.Context, remoteID, path string) error {
	return m.a.session().SendDocument(ctx, remoteID, path)
}

var sessionTopics = map[session.EventKind]eventbus.Topic{
	session.EventQR:           eventbus.TopicSessionQR,
	session.EventReady:        eventbus.TopicSessionReady,
	session.EventDisconnected: eventbus.TopicSessionDisconnected,
	session.EventAuthFailure:  eventbus.TopicSessionAuthFailure,
}

func (a *App) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventReady:
		a.setInitErr("")
	case session.EventAuthFailure:
		a.setInitErr(ev.Message)
	}
	topic, ok := sessionTopics[ev.Kind]
	if !ok {
		return
	}
	a.bus.Publish(eventbus.Event{Topic: topic, Time: ev.Time, Data: ev})
}

func (a *App) onFoldersChanged() {
	a.metrics.WatcherNotify()
	pending := 0
	for _, g := range a.store.Scan(a.cfgm.Get().Groups) {
		if g.Mapped() {
			pending += g.FileCount
		}
	}
	a.metrics.SetPending(pending)
	a.log.Debug("folders changed", logx.Int("pending", pending))
	a.bus.Publish(eventbus.Event{Topic: eventbus.TopicFoldersChanged})
}

func (a *App) setInitErr(msg string) {
	a.mu.Lock()
	a.initErr = msg
	a.mu.Unlock()
}
