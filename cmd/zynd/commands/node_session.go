package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/config"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/node"
)

// adminSession holds a loaded Node and the authenticated caller identity
// every user/group subcommand acts as. Administration commands run
// out-of-process from `zynd start`: they load the workdir directly, make
// one change, persist, and exit, the same single-writer contract node.Node
// assumes for every caller (spec.md §5).
type adminSession struct {
	cfg  *config.Config
	node *node.Node
	ctx  context.Context
	as   authority.Id
}

// newAdminSession loads cfg.Workdir and authenticates as username,
// prompting for the password unless one is supplied.
func newAdminSession(cfg *config.Config, username string, password string) (*adminSession, error) {
	cc := cryptoctx.NewGPGContext(cfg.Crypto.Fingerprint)
	if cfg.Crypto.Binary != "" {
		cc.Binary = cfg.Crypto.Binary
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := node.Load(ctx, cc, cfg.Workdir, cfg.Node.MaxInactivity, cfg.Node.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to load workdir %q: %w", cfg.Workdir, err)
	}

	if password == "" {
		password, err = promptPassword(fmt.Sprintf("Password for %s: ", username))
		if err != nil {
			return nil, err
		}
	}

	resp := n.Handle(context.Background(), node.AuthenticateWithPassword(username, password))
	if resp.Err != nil {
		return nil, fmt.Errorf("authentication failed: %w", resp.Err)
	}

	return &adminSession{cfg: cfg, node: n, ctx: context.Background(), as: resp.UserId}, nil
}

// do runs req against the session's node as the authenticated caller.
func (s *adminSession) do(req node.Request) node.Response {
	return s.node.Handle(s.ctx, req)
}

// persist writes the node's state back to disk. Callers must call this
// after every mutating subcommand.
func (s *adminSession) persist() error {
	return s.node.Persist(s.ctx)
}
