// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/observability"
)

const writeTimeout = 5 * time.Second

// verbs maps game verbs onto gated action categories.
var verbs = map[string]gate.Category{
	"move":     gate.CategoryMovement,
	"use":      gate.CategoryBlockUse,
	"punch":    gate.CategoryBlockPunch,
	"useitem":  gate.CategoryItemUse,
	"drop":     gate.CategoryItemDrop,
	"take":     gate.CategoryItemMove,
	"attack":   gate.CategoryEntityPunch,
	"interact": gate.CategoryEntityInteract,
}

// connection handles one telnet client. Fields are owned by the handle
// goroutine, which also receives gate effects; send and kick may be called
// from any goroutine. name and exempt are fixed before the connection joins
// the roster.
type connection struct {
	srv     *Server
	conn    net.Conn
	reader  *bufio.Reader
	logger  *slog.Logger
	writeMu sync.Mutex

	origin netip.Addr
	id     gate.Identity
	name   string
	exempt bool
	joined bool

	pos        gate.Position
	safeguards gate.Safeguards

	quitting bool
	done     chan struct{}
}

func newConnection(srv *Server, conn net.Conn) *connection {
	return &connection{
		srv:    srv,
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: srv.logger.With("remote", conn.RemoteAddr().String()),
		origin: gate.OriginFromAddr(conn.RemoteAddr()),
		done:   make(chan struct{}),
	}
}

// handle processes the connection until it closes or ctx ends.
func (c *connection) handle(ctx context.Context) {
	defer close(c.done)

	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	var reader sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		c.readLoop(lines, readErr, stop)
	}()

	defer func() {
		close(stop)
		c.leave()
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("error closing connection", "error", err)
		}
		reader.Wait()
	}()

	c.send(msgWelcome)
	c.send(msgNamePrompt)

	for {
		select {
		case <-ctx.Done():
			c.send(msgShutdown)
			return

		case err := <-readErr:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("connection read error", "error", err)
			}
			return

		case line := <-lines:
			if !c.joined {
				if !c.join(ctx, line) {
					return
				}
				continue
			}
			c.processLine(line)
			if c.quitting {
				return
			}
		}
	}
}

func (c *connection) readLoop(lines chan<- string, readErr chan<- error, stop <-chan struct{}) {
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			readErr <- err
			return
		}
		select {
		case lines <- strings.TrimSpace(line):
		case <-stop:
			return
		}
	}
}

// join runs admission and the join flow for name. Returns false when the
// connection must close.
func (c *connection) join(ctx context.Context, name string) bool {
	engine := c.srv.engine
	c.name = name
	c.exempt = engine.Policy().IsExempt(name)
	check := func(connected []gate.ConnectedIdentity) *gate.Rejection {
		return engine.CheckJoinAdmission(name, connected)
	}
	for {
		prev, rej := c.srv.roster.admit(c, check)
		if rej != nil {
			c.logger.Info("join rejected", "name", name, "reason", string(rej.Reason))
			observability.RecordConnection(string(rej.Reason))
			c.send(rej.Message())
			return false
		}
		if prev == nil {
			break
		}
		observability.RecordConnection("taken_over")
		prev.kick(msgTakenOver)
		select {
		case <-prev.done:
		case <-ctx.Done():
			return false
		}
	}

	acct := c.srv.accounts.Resolve(name)
	c.id = acct.ID
	c.pos = c.srv.world.Locate(acct.Position)
	c.joined = true
	observability.RecordConnection("joined")

	res := engine.OnJoin(gate.JoinRequest{
		Identity: c.id,
		Name:     name,
		Origin:   c.origin,
		Position: c.pos,
		Now:      c.srv.now(),
	}, c)
	switch res.Outcome {
	case gate.JoinResumed:
		c.send(msgResumed)
	case gate.JoinTrusted:
		c.send(msgTrusted)
	case gate.JoinUnauthenticated:
	}
	if res.Rescued {
		c.send(msgRescued)
	}
	return true
}

// leave runs the leave flow for a joined connection.
func (c *connection) leave() {
	if !c.joined {
		return
	}
	c.srv.accounts.SetPosition(c.id, c.pos)
	armed := c.srv.engine.OnLeave(c.id, c.srv.now())
	c.srv.roster.release(c)
	c.joined = false
	c.logger.Info("connection left",
		"identity", c.id.String(),
		"name", c.name,
		"armed", armed,
	)
}

// kick tells the client why and closes the connection. Safe to call from
// any goroutine; the handle goroutine then runs the leave flow.
func (c *connection) kick(msg string) {
	c.send(msg)
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("error closing kicked connection", "error", err)
	}
}

func (c *connection) processLine(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/") {
		c.command(line)
		return
	}
	verb, arg := splitCommand(line)
	verb = strings.ToLower(verb)
	if verb == "look" {
		c.send(msgPosition(c.pos))
		return
	}
	if category, ok := verbs[verb]; ok {
		c.action(category, verb, arg)
		return
	}
	c.chat(line)
}

func (c *connection) command(line string) {
	cmd, arg := splitCommand(line)
	cmd = strings.ToLower(cmd)
	engine := c.srv.engine
	spec := engine.Policy().Spec()

	switch {
	case cmd == "/quit":
		c.send(msgGoodbye)
		c.quitting = true
		return
	case cmd == "/logout":
		c.logout()
		return
	case slices.Contains(spec.LoginCommands, cmd):
		c.login(arg)
		return
	case slices.Contains(spec.RegisterCommands, cmd):
		c.register(arg)
		return
	}

	if d := engine.CheckChat(c.id, line); !d.Allowed {
		c.notify(d.Notice)
		return
	}
	c.send(msgUnknownCommand(cmd))
}

func (c *connection) login(password string) {
	if c.srv.engine.IsAuthenticated(c.id) {
		c.send(msgAlreadyLoggedIn)
		return
	}
	res := c.srv.auth.HandleLogin(c.id, password)
	c.send(res.Message)
	if res.Success {
		c.authenticate()
	}
}

func (c *connection) register(password string) {
	if c.srv.engine.IsAuthenticated(c.id) {
		c.send(msgAlreadyLoggedIn)
		return
	}
	res := c.srv.auth.HandleRegister(c.id, password)
	c.send(res.Message)
	if res.Success {
		c.authenticate()
	}
}

// authenticate marks the identity live and, if it was rescued from a
// hazard, shows the real blocks again.
func (c *connection) authenticate() {
	wasInPortal, ok := c.srv.engine.Authenticate(c.id, c)
	if !ok {
		return
	}
	if wasInPortal {
		c.send(msgBlockChange(c.pos, c.srv.world.MaterialAt(c.pos)))
		above := c.pos.Above()
		c.send(msgBlockChange(above, c.srv.world.MaterialAt(above)))
	}
}

func (c *connection) logout() {
	if !c.srv.engine.IsAuthenticated(c.id) || c.exempt {
		c.send(msgNotLoggedIn)
		return
	}
	c.send(msgLoggedOut)
	c.srv.engine.Deauthenticate(c.id, c.origin, c)
}

func (c *connection) action(category gate.Category, verb, arg string) {
	d := c.srv.engine.CheckAction(category, c.id)
	if !d.Allowed {
		c.notify(d.Notice)
		return
	}
	if category == gate.CategoryMovement {
		next, ok := Step(c.pos, arg)
		if !ok {
			c.send(msgMoveWhere)
			return
		}
		c.pos = c.srv.world.Locate(next)
		c.send(msgPosition(c.pos))
		return
	}
	c.send(msgDid(verb, arg))
}

func (c *connection) chat(message string) {
	if d := c.srv.engine.CheckChat(c.id, message); !d.Allowed {
		c.notify(d.Notice)
		return
	}
	line := msgSays(c.name, message)
	c.srv.roster.each(func(other *connection) {
		other.send(line)
	})
}

func (c *connection) notify(n gate.Notice) {
	if text := notice(n); text != "" {
		c.send(text)
	}
}

// send writes one line. Safe for concurrent use.
func (c *connection) send(msg string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("failed to set write deadline", "error", err)
		return
	}
	if _, err := fmt.Fprintln(c.conn, msg); err != nil {
		c.logger.Debug("failed to send message to client", "error", err)
	}
}

// ApplySafeguards implements gate.Effects.
func (c *connection) ApplySafeguards(_ gate.Identity, s gate.Safeguards) {
	c.safeguards = s
	if s.Invulnerable || s.Invisible {
		c.send(msgSafeguarded)
	}
}

// Notify implements gate.Effects.
func (c *connection) Notify(_ gate.Identity, n gate.Notice) {
	c.notify(n)
}

// FakeWorldState implements gate.Effects.
func (c *connection) FakeWorldState(_ gate.Identity, pos gate.Position, material string) {
	c.send(msgBlockChange(pos, material))
}

// Relocate implements gate.Effects.
func (c *connection) Relocate(_ gate.Identity, pos gate.Position) {
	c.pos = pos
}

// TeleportToSpawn implements gate.Effects.
func (c *connection) TeleportToSpawn(gate.Identity) {
	c.pos = c.srv.world.Spawn()
}

// splitCommand splits a line into its first word and the trimmed rest.
func splitCommand(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(strings.TrimSpace(line), " ")
	return cmd, strings.TrimSpace(arg)
}
