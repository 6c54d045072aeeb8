package app

import (
	"context"
	"fmt"

	"github.com/telechat/telechat/internal/api"
	"github.com/telechat/telechat/internal/conn"
	intsync "github.com/telechat/telechat/internal/sync"
	"go.uber.org/zap"
)

// Engine is the embedding surface for a client front end: login and
// logout span the API client, the connection manager, and the
// coordinator, so they live here rather than in any one of them.
type Engine struct {
	api    *api.Client
	mgr    *conn.Manager
	co     *intsync.Coordinator
	logger *zap.Logger
}

// NewEngine creates the session facade.
func NewEngine(client *api.Client, mgr *conn.Manager, co *intsync.Coordinator, logger *zap.Logger) *Engine {
	return &Engine{api: client, mgr: mgr, co: co, logger: logger}
}

// Coordinator exposes the reactive state owner for front ends.
func (e *Engine) Coordinator() *intsync.Coordinator {
	return e.co
}

// Login authenticates, opens the live connection, and loads the chat
// list. The engine is usable (read-only, from cache) even when the
// initial chat fetch fails; only authentication errors are fatal here.
func (e *Engine) Login(ctx context.Context, identifier, password string) error {
	res, err := e.api.Login(ctx, identifier, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	e.logger.Info("logged in", zap.String("user_id", res.User.ID))

	e.co.SetCurrentUser(&res.User)
	e.mgr.Connect(res.Token)
	e.co.Initialize(ctx)
	return nil
}

// Logout drops the credential, closes the connection, and wipes the
// local cache.
func (e *Engine) Logout() error {
	e.api.ClearToken()
	if err := e.co.Logout(); err != nil {
		return err
	}
	e.logger.Info("logged out")
	return nil
}
