package core

import "github.com/dkeye/Sketch/internal/domain"

// SessionID identifies one live connection. It is unique per socket,
// not per browser.
type SessionID string

// MemberSession is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

type session struct {
	member *domain.Member
	signal SignalConnection
}

func NewMemberSession(member *domain.Member, signal SignalConnection) MemberSession {
	return session{member: member, signal: signal}
}

func (s session) Meta() *domain.Member     { return s.member }
func (s session) Signal() SignalConnection { return s.signal }
