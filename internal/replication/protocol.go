package replication

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// Control message prefixes. Every message is one newline-terminated
// text line.
const (
	msgSlaveConnect = "SLAVE_CONNECT"
	msgMasterOK     = "MASTER:OK"
	msgPing         = "PING"
	msgPong         = "PONG"
	msgSyncRequest  = "SYNC_REQUEST"
	msgSyncOK       = "SYNC:OK"
	msgSyncStart    = "SYNC:START"
	msgCommandAck   = "COMMAND_ACK"
	msgOK           = "OK"
)

// FormatSlaveConnect renders the follower handshake.
func FormatSlaveConnect(offset uint64) string {
	return msgSlaveConnect + ":" + strconv.FormatUint(offset, 10)
}

// FormatMasterOK renders the primary's handshake acknowledgment.
func FormatMasterOK(offset uint64) string {
	return msgMasterOK + ":" + strconv.FormatUint(offset, 10)
}

// FormatSyncRequest renders a follower catch-up request.
func FormatSyncRequest(offset uint64) string {
	return msgSyncRequest + ":" + strconv.FormatUint(offset, 10)
}

// FormatSyncStart announces n backlog entries about to be streamed.
func FormatSyncStart(n int) string {
	return msgSyncStart + ":" + strconv.Itoa(n)
}

// FormatCommandAck renders a follower acknowledgment.
func FormatCommandAck(offset uint64) string {
	return msgCommandAck + ":" + strconv.FormatUint(offset, 10)
}

// parseSuffixOffset extracts the integer after the last ':' of a
// control message like "SLAVE_CONNECT:42".
func parseSuffixOffset(line string) (uint64, error) {
	idx := strings.LastIndexByte(line, ':')
	if idx < 0 || idx == len(line)-1 {
		return 0, domain.ErrReplicationHandshake.WithDetails(line)
	}
	off, err := strconv.ParseUint(line[idx+1:], 10, 64)
	if err != nil {
		return 0, domain.ErrReplicationHandshake.WithDetails(fmt.Sprintf("bad offset in %q", line))
	}
	return off, nil
}

// ParseMasterOK extracts the primary offset from a MASTER:OK reply.
func ParseMasterOK(line string) (uint64, error) {
	if !strings.HasPrefix(line, msgMasterOK+":") {
		return 0, domain.ErrReplicationHandshake.WithDetails(line)
	}
	return parseSuffixOffset(line)
}

// ParseSyncReply interprets the reply to a SYNC_REQUEST: either
// up-to-date (n == 0) or the count of entries about to follow.
func ParseSyncReply(line string) (n int, err error) {
	switch {
	case strings.HasPrefix(line, msgSyncOK+":"):
		return 0, nil
	case strings.HasPrefix(line, msgSyncStart+":"):
		off, err := parseSuffixOffset(line)
		if err != nil {
			return 0, err
		}
		return int(off), nil
	}
	return 0, domain.ErrReplicationHandshake.WithDetails(line)
}
