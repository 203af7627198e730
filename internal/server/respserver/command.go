package respserver

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/yndnr/leapcache-go/internal/core/domain"
	"github.com/yndnr/leapcache-go/internal/core/service"
	"github.com/yndnr/leapcache-go/internal/infra/buildinfo"
	"github.com/yndnr/leapcache-go/internal/telemetry/metric"
)

// commandSpec declares one verb's argument contract.
type commandSpec struct {
	minArgs  int // excluding the verb
	maxArgs  int // -1 means unbounded
	mutating bool
	handler  func(h *CommandHandler, conn *Conn, args [][]byte) Value
}

// commandTable maps verbs to their contracts. Mutating verbs reach the
// AOF and the replication stream through the store when the handler
// reports success.
var commandTable = map[string]commandSpec{
	"PING":   {0, 1, false, (*CommandHandler).cmdPing},
	"ECHO":   {1, 1, false, (*CommandHandler).cmdEcho},
	"SET":    {2, 2, true, (*CommandHandler).cmdSet},
	"GET":    {1, 1, false, (*CommandHandler).cmdGet},
	"DEL":    {1, 1, true, (*CommandHandler).cmdDel},
	"EXISTS": {1, 1, false, (*CommandHandler).cmdExists},
	"KEYS":   {0, -1, false, (*CommandHandler).cmdKeys},
	"FLUSH":  {0, 0, true, (*CommandHandler).cmdFlush},
	"SAVE":   {0, 0, false, (*CommandHandler).cmdSave},
	"LOAD":   {0, 0, false, (*CommandHandler).cmdLoad},
	"INFO":   {0, 0, false, (*CommandHandler).cmdInfo},
	"CONFIG": {1, -1, false, (*CommandHandler).cmdConfig},
	"SELECT": {1, 1, false, (*CommandHandler).cmdSelect},
	"AUTH":   {1, 1, false, (*CommandHandler).cmdAuth},
	"QUIT":   {0, 0, false, (*CommandHandler).cmdQuit},
}

// HandlerConfig carries the dispatcher's runtime settings.
type HandlerConfig struct {
	// RequirePass, when non-empty, gates every command except PING,
	// AUTH, and QUIT behind AUTH. A value with a bcrypt prefix is
	// treated as a hash; anything else compares in constant time.
	RequirePass string
	// Databases is the upper bound for SELECT (exclusive).
	Databases int
	// Port is reported in the INFO block.
	Port int
	// RateLimit is the per-IP commands-per-second cap; 0 disables.
	RateLimit int
}

// CommandHandler validates and routes commands to their handlers.
type CommandHandler struct {
	cfg     HandlerConfig
	store   *service.Store
	logger  *slog.Logger
	metrics *metric.Registry
	runID   string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewCommandHandler creates a dispatcher over store.
func NewCommandHandler(cfg HandlerConfig, store *service.Store, metrics *metric.Registry, runID string, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Databases <= 0 {
		cfg.Databases = 16
	}
	return &CommandHandler{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		runID:    runID,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handle dispatches one command frame and writes the reply.
func (h *CommandHandler) Handle(conn *Conn, args [][]byte) {
	if len(args) == 0 {
		_ = WriteValue(conn.bw, ErrorString("ERR no command"))
		return
	}

	verb := upperVerb(args[0])
	h.store.Stats().IncrCommand(verb)
	if h.metrics != nil {
		h.metrics.CommandsTotal.WithLabelValues(verb).Inc()
	}

	spec, ok := commandTable[verb]
	if !ok {
		_ = WriteValue(conn.bw, ErrorString("ERR unknown command '"+verb+"'"))
		return
	}

	rest := args[1:]
	if len(rest) < spec.minArgs || (spec.maxArgs >= 0 && len(rest) > spec.maxArgs) {
		_ = WriteValue(conn.bw, ErrorString("ERR wrong number of arguments for '"+verb+"' command"))
		return
	}

	// AUTH gate: only when a password is configured.
	if h.cfg.RequirePass != "" && !conn.Authenticated() {
		switch verb {
		case "PING", "AUTH", "QUIT":
		default:
			_ = WriteValue(conn.bw, ErrorString("NOAUTH Authentication required"))
			return
		}
	}

	if h.cfg.RateLimit > 0 && !h.allow(conn.RemoteIP()) {
		_ = WriteValue(conn.bw, ErrorString("ERR rate limit exceeded"))
		return
	}

	reply := spec.handler(h, conn, rest)
	_ = WriteValue(conn.bw, reply)
}

// allow admits one command for ip under the configured per-IP rate.
func (h *CommandHandler) allow(ip string) bool {
	h.limiterMu.Lock()
	lim, ok := h.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.RateLimit)
		h.limiters[ip] = lim
	}
	h.limiterMu.Unlock()
	return lim.Allow()
}

// ApplyRecord applies one durable record (an AOF line or a replicated
// command) through the dispatcher with no client attached. Only
// mutating verbs are accepted.
func (h *CommandHandler) ApplyRecord(verb string, args [][]byte, mode service.Mode) error {
	switch verb {
	case "SET":
		if len(args) != 2 {
			return domain.ErrWrongArity.WithDetails(verb)
		}
		k, err := domain.ParseKey(args[0])
		if err != nil {
			return err
		}
		return h.store.Set(k, append([]byte(nil), args[1]...), mode)
	case "DEL":
		if len(args) != 1 {
			return domain.ErrWrongArity.WithDetails(verb)
		}
		k, err := domain.ParseKey(args[0])
		if err != nil {
			return err
		}
		h.store.Delete(k, mode)
		return nil
	case "FLUSH":
		h.store.Flush(mode)
		return nil
	}
	return domain.ErrUnknownCommand.WithDetails(verb)
}

// ApplyLine parses and applies one record line; used by the follower's
// replication stream.
func (h *CommandHandler) ApplyLine(line string, mode service.Mode) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return domain.ErrCorruptRecord.WithDetails(line)
	}
	verb := strings.ToUpper(fields[0])
	args := make([][]byte, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, []byte(f))
	}
	return h.ApplyRecord(verb, args, mode)
}

func (h *CommandHandler) cmdPing(conn *Conn, args [][]byte) Value {
	if len(args) == 1 {
		return Bulk(args[0])
	}
	return SimpleString("PONG")
}

func (h *CommandHandler) cmdEcho(conn *Conn, args [][]byte) Value {
	return Bulk(args[0])
}

func (h *CommandHandler) cmdSet(conn *Conn, args [][]byte) Value {
	k, err := domain.ParseKey(args[0])
	if err != nil {
		return ErrorString("ERR key must be an integer")
	}
	if err := h.store.Set(k, append([]byte(nil), args[1]...), service.ModeClient); err != nil {
		if domain.IsDomainError(err, domain.ErrKeyExists.Code) {
			return ErrorString("ERR failed to set key")
		}
		return ErrorString("ERR " + err.Error())
	}
	return SimpleString("OK")
}

func (h *CommandHandler) cmdGet(conn *Conn, args [][]byte) Value {
	k, err := domain.ParseKey(args[0])
	if err != nil {
		return ErrorString("ERR key must be an integer")
	}
	v, ok := h.store.Get(k)
	if !ok {
		return NullBulk()
	}
	return Bulk(v)
}

// cmdDel always replies 1 to preserve the established wire contract,
// whether or not the key was present.
func (h *CommandHandler) cmdDel(conn *Conn, args [][]byte) Value {
	k, err := domain.ParseKey(args[0])
	if err != nil {
		return ErrorString("ERR key must be an integer")
	}
	h.store.Delete(k, service.ModeClient)
	return Integer(1)
}

func (h *CommandHandler) cmdExists(conn *Conn, args [][]byte) Value {
	k, err := domain.ParseKey(args[0])
	if err != nil {
		return ErrorString("ERR key must be an integer")
	}
	if h.store.Exists(k) {
		return Integer(1)
	}
	return Integer(0)
}

func (h *CommandHandler) cmdKeys(conn *Conn, args [][]byte) Value {
	pattern := "*"
	if len(args) > 0 {
		pattern = string(args[0])
	}
	keys := h.store.Keys(pattern)
	elems := make([]Value, 0, len(keys))
	for _, k := range keys {
		elems = append(elems, BulkString(domain.FormatKey(k)))
	}
	return Array(elems...)
}

func (h *CommandHandler) cmdFlush(conn *Conn, args [][]byte) Value {
	h.store.Flush(service.ModeClient)
	return SimpleString("OK")
}

func (h *CommandHandler) cmdSave(conn *Conn, args [][]byte) Value {
	if err := h.store.Save(); err != nil {
		h.logger.Error("snapshot save failed", "error", err)
		return ErrorString("ERR save failed")
	}
	return SimpleString("OK")
}

func (h *CommandHandler) cmdLoad(conn *Conn, args [][]byte) Value {
	if err := h.store.LoadSnapshot(); err != nil {
		h.logger.Error("snapshot load failed", "error", err)
		return ErrorString("ERR load failed")
	}
	return SimpleString("OK")
}

func (h *CommandHandler) cmdInfo(conn *Conn, args [][]byte) Value {
	return BulkString(h.serverInfo())
}

// serverInfo renders the sectioned INFO block.
func (h *CommandHandler) serverInfo() string {
	stats := h.store.Stats()
	repl := h.store.Replication()

	var b strings.Builder
	fmt.Fprintf(&b, "# Server\n")
	fmt.Fprintf(&b, "leapcache_version:%s\n", buildinfo.Version)
	fmt.Fprintf(&b, "run_id:%s\n", h.runID)
	fmt.Fprintf(&b, "process_id:%d\n", os.Getpid())
	fmt.Fprintf(&b, "tcp_port:%d\n", h.cfg.Port)
	fmt.Fprintf(&b, "uptime_in_seconds:%d\n", int64(stats.Uptime().Seconds()))
	fmt.Fprintf(&b, "uptime_in_days:%d\n", int64(stats.Uptime().Hours()/24))

	fmt.Fprintf(&b, "\n# Clients\n")
	fmt.Fprintf(&b, "connected_clients:%d\n", stats.CurrentConnections())
	fmt.Fprintf(&b, "total_connections_received:%d\n", stats.TotalConnections())

	fmt.Fprintf(&b, "\n# Stats\n")
	fmt.Fprintf(&b, "total_commands_processed:%d\n", stats.TotalCommands())
	per := stats.PerCommand()
	verbs := make([]string, 0, len(per))
	for v := range per {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	for _, v := range verbs {
		fmt.Fprintf(&b, "cmdstat_%s:calls=%d\n", strings.ToLower(v), per[v])
	}

	fmt.Fprintf(&b, "\n# Replication\n")
	rs := repl.Stats()
	fmt.Fprintf(&b, "role:%s\n", rs.Role)
	fmt.Fprintf(&b, "replication_offset:%d\n", rs.Offset)
	fmt.Fprintf(&b, "connected_slaves:%d\n", rs.ConnectedFollowers)
	fmt.Fprintf(&b, "total_commands_replicated:%d\n", rs.CommandsReplicated)
	fmt.Fprintf(&b, "total_bytes_replicated:%d\n", rs.BytesReplicated)
	fmt.Fprintf(&b, "avg_replication_lag:%.2f\n", rs.AverageLag)

	fmt.Fprintf(&b, "\n# Keyspace\n")
	fmt.Fprintf(&b, "db0:keys=%d\n", h.store.Len())

	return b.String()
}

// cmdConfig answers CONFIG GET for a small set of known keys.
func (h *CommandHandler) cmdConfig(conn *Conn, args [][]byte) Value {
	if !strings.EqualFold(string(args[0]), "GET") {
		return ErrorString("ERR unsupported CONFIG subcommand")
	}
	param := ""
	if len(args) > 1 {
		param = strings.ToLower(string(args[1]))
	}

	known := map[string]string{
		"maxmemory":        "0",
		"maxmemory-policy": "noeviction",
		"timeout":          "0",
		"tcp-keepalive":    "300",
		"databases":        strconv.Itoa(h.cfg.Databases),
		"appendonly":       boolToYesNo(h.store.AOFEnabled()),
	}

	var b strings.Builder
	if param == "" || param == "*" {
		params := make([]string, 0, len(known))
		for p := range known {
			params = append(params, p)
		}
		sort.Strings(params)
		for _, p := range params {
			fmt.Fprintf(&b, "%s:%s\n", p, known[p])
		}
	} else if v, ok := known[param]; ok {
		fmt.Fprintf(&b, "%s:%s\n", param, v)
	}
	return BulkString(b.String())
}

func (h *CommandHandler) cmdSelect(conn *Conn, args [][]byte) Value {
	db, err := strconv.Atoi(string(args[0]))
	if err != nil || db < 0 || db >= h.cfg.Databases {
		return ErrorString("ERR invalid database index")
	}
	// The selector is recorded but has no semantic effect on the
	// single keyspace.
	conn.SetDatabase(db)
	return SimpleString("OK")
}

func (h *CommandHandler) cmdAuth(conn *Conn, args [][]byte) Value {
	if h.cfg.RequirePass == "" {
		conn.SetAuthenticated(true)
		return SimpleString("OK")
	}
	if h.checkPassword(string(args[0])) {
		conn.SetAuthenticated(true)
		return SimpleString("OK")
	}
	return ErrorString("ERR invalid password")
}

// checkPassword accepts the configured secret as either a bcrypt hash
// (by prefix) or a plaintext shared secret compared in constant time.
// A malformed hash degrades to a never-matching plaintext secret.
func (h *CommandHandler) checkPassword(candidate string) bool {
	pass := h.cfg.RequirePass
	if strings.HasPrefix(pass, "$2a$") || strings.HasPrefix(pass, "$2b$") || strings.HasPrefix(pass, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(pass), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(candidate)) == 1
}

func (h *CommandHandler) cmdQuit(conn *Conn, args [][]byte) Value {
	conn.CloseAfterReply()
	return SimpleString("OK")
}

func boolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
