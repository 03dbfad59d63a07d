package cache

import "fmt"

// Key layout:
//   presence:room:<code>              Set<sid>, candidate members of a room
//   presence:member:<code>:<sid>      String "1" with TTL, member heartbeat
const (
	keyRoomFmt   = "presence:room:%s"
	keyMemberFmt = "presence:member:%s:%s"
)

func roomKey(code string) string        { return fmt.Sprintf(keyRoomFmt, code) }
func memberKey(code, sid string) string { return fmt.Sprintf(keyMemberFmt, code, sid) }
