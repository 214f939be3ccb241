package testutils

import (
	"bufio"
	"context"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pior/redis/resp"
)

// Handler computes the reply to one command. Returning the zero Reply sends
// nothing back.
type Handler func(args []string) resp.Reply

// Server is an in-process RESP server listening on a loopback port. It
// implements a small command set (strings, transactions, pub/sub, AUTH,
// SELECT) and records every command it receives.
//
// Clients should dial with Server.Dial so tests can break their connections.
type Server struct {
	listener net.Listener

	mu          sync.Mutex
	password    string
	handlers    map[string]Handler
	commands    [][]string
	conns       map[*serverConn]struct{}
	clientConns []*FaultConn
	dials       int
	dialErr     error
	data        map[int]map[string][]byte
}

// NewServer starts a server closed at the end of the test.
func NewServer(t testing.TB) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}

	s := &Server{
		listener: listener,
		handlers: make(map[string]Handler),
		conns:    make(map[*serverConn]struct{}),
		data:     make(map[int]map[string][]byte),
	}

	t.Cleanup(s.Close)
	go s.acceptLoop()
	return s
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops the listener and drops every connection.
func (s *Server) Close() {
	s.listener.Close()

	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		sc.close()
		sc.conn.Close()
	}
}

// RequirePassword makes the server reject commands until AUTH succeeds.
func (s *Server) RequirePassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
}

// Handle overrides the reply to a command. name is case-insensitive.
func (s *Server) Handle(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(name)] = h
}

// Dial connects to the server and wraps the client side in a FaultConn. Its
// signature matches net.Dialer.DialContext.
func (s *Server) Dial(ctx context.Context, network, _ string) (net.Conn, error) {
	s.mu.Lock()
	s.dials++
	dialErr := s.dialErr
	s.mu.Unlock()

	if dialErr != nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: dialErr}
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		return nil, err
	}

	fc := NewFaultConn(nc)
	s.mu.Lock()
	s.clientConns = append(s.clientConns, fc)
	s.mu.Unlock()
	return fc, nil
}

// Dials returns the number of Dial calls.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// FailDials makes Dial fail with err. A nil err restores dialing.
func (s *Server) FailDials(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

// BreakConnections breaks every client connection opened with Dial.
func (s *Server) BreakConnections(err error) {
	s.mu.Lock()
	conns := s.clientConns
	s.clientConns = nil
	s.mu.Unlock()

	for _, fc := range conns {
		fc.Break(err)
	}
}

// Commands returns the received commands, in order.
func (s *Server) Commands() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// CommandLines returns the received commands joined with spaces.
func (s *Server) CommandLines() []string {
	cmds := s.Commands()
	lines := make([]string, len(cmds))
	for i, args := range cmds {
		lines[i] = strings.Join(args, " ")
	}
	return lines
}

// ResetCommands forgets the received commands.
func (s *Server) ResetCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

// Subscribers returns the number of connections subscribed to channel,
// directly or through a pattern.
func (s *Server) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for sc := range s.conns {
		if sc.matches(channel) {
			n++
		}
	}
	return n
}

// Publish delivers a message to the subscribers of channel and returns
// their number.
func (s *Server) Publish(channel, payload string) int {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	n := 0
	for _, sc := range conns {
		n += sc.deliver(channel, payload)
	}
	return n
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}

		sc := newServerConn(nc)
		s.mu.Lock()
		s.conns[sc] = struct{}{}
		s.mu.Unlock()

		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.conns, sc)
				s.mu.Unlock()
				sc.close()
			}()
			s.serve(sc)
		}()
	}
}

func (s *Server) serve(sc *serverConn) {
	r := bufio.NewReader(sc.conn)
	for {
		raw, err := resp.ReadCommand(r)
		if err != nil {
			return
		}
		if len(raw) == 0 {
			continue
		}

		args := make([]string, len(raw))
		for i, a := range raw {
			args[i] = string(a)
		}

		s.mu.Lock()
		s.commands = append(s.commands, args)
		s.mu.Unlock()

		for _, reply := range s.dispatch(sc, args) {
			sc.send(reply)
		}

		if strings.EqualFold(args[0], "QUIT") {
			return
		}
	}
}

func (s *Server) dispatch(sc *serverConn, args []string) []resp.Reply {
	name := strings.ToUpper(args[0])

	s.mu.Lock()
	handler := s.handlers[name]
	password := s.password
	s.mu.Unlock()

	if password != "" && !sc.authenticated && name != "AUTH" && name != "QUIT" {
		return []resp.Reply{resp.ErrorValue("NOAUTH Authentication required.")}
	}

	if sc.inMulti && name != "EXEC" && name != "DISCARD" && name != "MULTI" {
		sc.queued = append(sc.queued, args)
		return []resp.Reply{resp.SimpleString("QUEUED")}
	}

	if handler != nil {
		return []resp.Reply{handler(args)}
	}

	switch name {
	case "AUTH":
		return []resp.Reply{s.auth(sc, args, password)}
	case "MULTI":
		if sc.inMulti {
			return []resp.Reply{resp.ErrorValue("ERR MULTI calls can not be nested")}
		}
		sc.inMulti = true
		return []resp.Reply{resp.OK}
	case "EXEC":
		if !sc.inMulti {
			return []resp.Reply{resp.ErrorValue("ERR EXEC without MULTI")}
		}
		queued := sc.queued
		sc.inMulti, sc.queued = false, nil
		results := make([]resp.Reply, 0, len(queued))
		for _, q := range queued {
			results = append(results, s.dispatch(sc, q)...)
		}
		return []resp.Reply{resp.Array(results...)}
	case "DISCARD":
		if !sc.inMulti {
			return []resp.Reply{resp.ErrorValue("ERR DISCARD without MULTI")}
		}
		sc.inMulti, sc.queued = false, nil
		return []resp.Reply{resp.OK}
	case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE":
		return sc.subscription(name, args[1:])
	case "PUBLISH":
		if len(args) != 3 {
			return []resp.Reply{wrongArgs(name)}
		}
		return []resp.Reply{resp.Integer(int64(s.Publish(args[1], args[2])))}
	}

	if sc.subscribed() && name != "PING" && name != "QUIT" {
		return []resp.Reply{resp.ErrorValue("ERR Can't execute '" + strings.ToLower(name) + "': only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context")}
	}

	return []resp.Reply{s.command(sc, name, args)}
}

func (s *Server) auth(sc *serverConn, args []string, password string) resp.Reply {
	if len(args) < 2 || len(args) > 3 {
		return wrongArgs("AUTH")
	}
	if password == "" {
		return resp.ErrorValue("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
	}
	if args[len(args)-1] != password {
		return resp.ErrorValue("WRONGPASS invalid username-password pair or user is disabled.")
	}
	sc.authenticated = true
	return resp.OK
}

func (s *Server) command(sc *serverConn, name string, args []string) resp.Reply {
	switch name {
	case "PING":
		if sc.subscribed() {
			return resp.Array(resp.BulkString("pong"), resp.BulkString(""))
		}
		if len(args) > 1 {
			return resp.BulkString(args[1])
		}
		return resp.SimpleString("PONG")
	case "ECHO":
		if len(args) != 2 {
			return wrongArgs(name)
		}
		return resp.BulkString(args[1])
	case "QUIT":
		return resp.OK
	case "SELECT":
		if len(args) != 2 {
			return wrongArgs(name)
		}
		db, err := strconv.Atoi(args[1])
		if err != nil {
			return resp.ErrorValue("ERR value is not an integer or out of range")
		}
		if db < 0 || db > 15 {
			return resp.ErrorValue("ERR DB index is out of range")
		}
		sc.db = db
		return resp.OK
	case "CLIENT":
		if len(args) == 3 && strings.EqualFold(args[1], "SETNAME") {
			sc.name = args[2]
			return resp.OK
		}
		if len(args) == 2 && strings.EqualFold(args[1], "GETNAME") {
			if sc.name == "" {
				return resp.BulkNil()
			}
			return resp.BulkString(sc.name)
		}
		return resp.ErrorValue("ERR unknown subcommand")
	case "SET":
		if len(args) != 3 {
			return wrongArgs(name)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.db(sc.db)[args[1]] = []byte(args[2])
		return resp.OK
	case "GET":
		if len(args) != 2 {
			return wrongArgs(name)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		v, ok := s.db(sc.db)[args[1]]
		if !ok {
			return resp.BulkNil()
		}
		return resp.Bulk(v)
	case "DEL":
		s.mu.Lock()
		defer s.mu.Unlock()
		n := 0
		for _, k := range args[1:] {
			if _, ok := s.db(sc.db)[k]; ok {
				delete(s.db(sc.db), k)
				n++
			}
		}
		return resp.Integer(int64(n))
	case "INCR":
		if len(args) != 2 {
			return wrongArgs(name)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		n := int64(0)
		if v, ok := s.db(sc.db)[args[1]]; ok {
			var err error
			n, err = strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return resp.ErrorValue("ERR value is not an integer or out of range")
			}
		}
		n++
		s.db(sc.db)[args[1]] = []byte(strconv.FormatInt(n, 10))
		return resp.Integer(n)
	default:
		return resp.ErrorValue("ERR unknown command '" + strings.ToLower(args[0]) + "'")
	}
}

// db must be called with s.mu held.
func (s *Server) db(index int) map[string][]byte {
	m, ok := s.data[index]
	if !ok {
		m = make(map[string][]byte)
		s.data[index] = m
	}
	return m
}

func wrongArgs(name string) resp.Reply {
	return resp.ErrorValue("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
}

// serverConn is the server side of one client connection. Replies go
// through a channel so published messages and command replies never
// interleave mid-frame.
type serverConn struct {
	conn net.Conn
	out  chan []byte

	mu       sync.Mutex
	closed   bool
	channels map[string]struct{}
	patterns map[string]struct{}

	// owned by the serve goroutine
	authenticated bool
	db            int
	name          string
	inMulti       bool
	queued        [][]string
}

func newServerConn(nc net.Conn) *serverConn {
	sc := &serverConn{
		conn:     nc,
		out:      make(chan []byte, 4096),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
	go sc.writeLoop()
	return sc
}

// writeLoop flushes queued replies until close, then closes the socket.
func (sc *serverConn) writeLoop() {
	defer sc.conn.Close()
	for b := range sc.out {
		if _, err := sc.conn.Write(b); err != nil {
			return
		}
	}
}

func (sc *serverConn) send(reply resp.Reply) {
	b := resp.AppendReply(nil, reply)
	if len(b) == 0 {
		return
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	sc.out <- b
}

func (sc *serverConn) close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	sc.closed = true
	close(sc.out)
}

func (sc *serverConn) subscribed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.channels)+len(sc.patterns) > 0
}

func (sc *serverConn) subscription(name string, names []string) []resp.Reply {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	set := sc.channels
	if name == "PSUBSCRIBE" || name == "PUNSUBSCRIBE" {
		set = sc.patterns
	}
	kind := strings.ToLower(name)

	if strings.HasSuffix(name, "UNSUBSCRIBE") && len(names) == 0 {
		for n := range set {
			names = append(names, n)
		}
		if len(names) == 0 {
			return []resp.Reply{resp.Array(resp.BulkString(kind), resp.BulkNil(), resp.Integer(int64(len(sc.channels)+len(sc.patterns))))}
		}
	}
	if len(names) == 0 {
		return []resp.Reply{wrongArgs(name)}
	}

	replies := make([]resp.Reply, 0, len(names))
	for _, n := range names {
		if strings.HasSuffix(name, "UNSUBSCRIBE") {
			delete(set, n)
		} else {
			set[n] = struct{}{}
		}
		count := int64(len(sc.channels) + len(sc.patterns))
		replies = append(replies, resp.Array(resp.BulkString(kind), resp.BulkString(n), resp.Integer(count)))
	}
	return replies
}

func (sc *serverConn) matches(channel string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.channels[channel]; ok {
		return true
	}
	for p := range sc.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}

func (sc *serverConn) deliver(channel, payload string) int {
	sc.mu.Lock()
	var frames []resp.Reply
	if _, ok := sc.channels[channel]; ok {
		frames = append(frames, resp.Array(resp.BulkString("message"), resp.BulkString(channel), resp.BulkString(payload)))
	}
	for p := range sc.patterns {
		if ok, _ := path.Match(p, channel); ok {
			frames = append(frames, resp.Array(resp.BulkString("pmessage"), resp.BulkString(p), resp.BulkString(channel), resp.BulkString(payload)))
		}
	}
	sc.mu.Unlock()

	for _, f := range frames {
		sc.send(f)
	}
	return len(frames)
}
