package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"boletobot/internal/config"
	"boletobot/internal/eventbus"
	"boletobot/internal/folders"
	"boletobot/internal/sender"
	"boletobot/internal/session"
	"boletobot/internal/transport"
	"boletobot/pkg/logx"
)

// SetConfig edits the config through fn, then saves and applies it.
func (a *App) SetConfig(ctx context.Context, fn func(cfg *config.Config) error) (*config.Config, error) {
	next, err := a.cfgm.Update(ctx, fn)
	if err != nil {
		return nil, err
	}
	a.apply(ctx, next)
	return next, nil
}

// MapGroup binds a folder name to a remote group id. An empty id removes
// the mapping; the folder itself is left alone.
func (a *App) MapGroup(ctx context.Context, folder, remoteID string) error {
	if err := config.ValidateGroupName(folder); err != nil {
		return err
	}
	remoteID = strings.TrimSpace(remoteID)
	_, err := a.SetConfig(ctx, func(cfg *config.Config) error {
		if remoteID == "" {
			delete(cfg.Groups, folder)
			return nil
		}
		if cfg.Groups == nil {
			cfg.Groups = map[string]string{}
		}
		cfg.Groups[folder] = remoteID
		return nil
	})
	return err
}

func (a *App) Scan() []folders.GroupStatus {
	groups := a.store.Scan(a.cfgm.Get().Groups)
	pending := 0
	for _, g := range groups {
		if g.Mapped() {
			pending += g.FileCount
		}
	}
	a.metrics.SetPending(pending)
	return groups
}

// AddFiles copies sources into a group folder and records each original in
// the shared map so a later run, in any process, can delete it.
func (a *App) AddFiles(group string, sources []string) ([]folders.AddResult, error) {
	results, err := a.store.AddFiles(group, sources)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err == nil {
			if err := a.sender.Originals().Put(r.Copied, r.Original); err != nil {
				a.log.Warn("record original failed", logx.String("file", r.Copied), logx.Err(err))
			}
		} else {
			a.log.Warn("add file failed", logx.String("group", group), logx.String("file", r.Original), logx.Err(r.Err))
		}
	}
	return results, nil
}

// DeleteFile removes a pending copy. The original is never touched here.
func (a *App) DeleteFile(path string) error {
	if err := a.store.DeleteFile(path); err != nil {
		return err
	}
	a.sender.Originals().Take(path)
	return nil
}

// OpenFile launches a pending document in the default desktop application.
func (a *App) OpenFile(path string) error {
	if !a.store.Contains(path) {
		return folders.ErrOutsideRoot
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return folders.ErrNotRegularFile
	}
	return a.opts.Opener(path)
}

func (a *App) GroupPath(name string) (string, error) {
	if err := config.ValidateGroupName(name); err != nil {
		return "", err
	}
	return a.store.GroupPath(name), nil
}

func (a *App) CreateGroupFolder(name string) (string, error) {
	return a.store.CreateGroupFolder(name)
}

// SetFolder switches the root folder for the store and the watcher. It does
// not persist anything; change config.folder for that.
func (a *App) SetFolder(path string) error {
	if err := a.store.SetRoot(path); err != nil {
		return err
	}
	a.log.Info("folder switched", logx.String("folder", a.store.Root()))
	return a.restartWatcher(a.cfgm.Get())
}

// ListGroups returns the remote groups the session can deliver to.
func (a *App) ListGroups(ctx context.Context) []transport.Group {
	return a.session().ListGroups(ctx)
}

// Status reports the session. A failed initialize shows as Error until the
// session becomes ready.
func (a *App) Status() session.Status {
	st := a.session().Status()
	a.mu.Lock()
	initErr := a.initErr
	a.mu.Unlock()
	if initErr != "" && st.State != session.Connected {
		st.State = session.Error
		st.LastError = initErr
	}
	return st
}

func (a *App) LastError() string {
	return a.Status().LastError
}

func (a *App) SendAll(ctx context.Context) (sender.Progress, error) {
	return a.sender.SendAll(ctx)
}

// Progress is the latest snapshot of the current or previous run.
func (a *App) Progress() (sender.Progress, bool) {
	return a.sender.Last()
}

// Logout drops the platform session and starts pairing again with a fresh
// manager. Only a failed local reset or a failed re-initialize is returned.
func (a *App) Logout(ctx context.Context) error {
	old := a.session()
	logoutErr := old.Logout(ctx)
	old.Destroy()

	a.setInitErr("")
	m := a.newSession(a.cfgm.Get())
	a.setSession(m)
	a.log.Info("session reset; pairing again")

	if err := m.Initialize(ctx); err != nil {
		a.setInitErr(err.Error())
		return errors.Join(logoutErr, fmt.Errorf("initialize: %w", err))
	}
	return logoutErr
}

// WaitReady blocks until the session is connected, fails authentication or
// ctx ends. QR payloads seen meanwhile are passed to onQR.
func (a *App) WaitReady(ctx context.Context, onQR func(payload string)) error {
	events, unsub := a.bus.Subscribe(16,
		eventbus.TopicSessionQR, eventbus.TopicSessionReady, eventbus.TopicSessionAuthFailure)
	defer unsub()

	st := a.Status()
	switch {
	case st.State == session.Connected:
		return nil
	case st.State == session.Error:
		return fmt.Errorf("session error: %s", st.LastError)
	case st.QR != "" && onQR != nil:
		onQR(st.QR)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			ev, _ := e.Data.(session.Event)
			switch e.Topic {
			case eventbus.TopicSessionReady:
				return nil
			case eventbus.TopicSessionAuthFailure:
				return fmt.Errorf("session error: %s", ev.Message)
			case eventbus.TopicSessionQR:
				if onQR != nil {
					onQR(ev.QR)
				}
			}
		}
	}
}

// Report is the JSON body of the ops /status endpoint.
type Report struct {
	Session  session.Status    `json:"session"`
	Running  bool              `json:"running"`
	Progress *sender.Progress  `json:"progress,omitempty"`
	Folder   string            `json:"folder"`
	Groups   map[string]string `json:"groups"`
}

func (a *App) Report() Report {
	r := Report{
		Session: a.Status(),
		Running: a.sender.Running(),
		Folder:  a.store.Root(),
		Groups:  a.cfgm.Get().Groups,
	}
	if p, ok := a.sender.Last(); ok {
		r.Progress = &p
	}
	return r
}
