// Package host defines what the components built on top of a replica
// need from it. *metasync.Replica implements all of these.
package host

import (
	"context"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

type Host interface {
	Source() uint64
	Logger() utils.Logger
	IsAuthority(oid rdx.ID) bool
	Class(oid rdx.ID) (classes.Fields, error)
	Read(oid rdx.ID, key string) (metasync.Value, error)
	Write(oid rdx.ID, key string, v metasync.Value) error
	WriteOrForward(ctx context.Context, oid rdx.ID, key string, v metasync.Value) error
	Invoke(ctx context.Context, oid rdx.ID, name string, args []byte) error
	RegisterCommand(name string, handler metasync.CommandHandler)
	AddAuthorityHook(oid rdx.ID, hook metasync.AuthorityHook)
}

// StreamHost adds buffer transfer and change detection.
type StreamHost interface {
	Host
	Send(oid rdx.ID, key string, buf []byte, used int) error
	Receive(oid rdx.ID, key string) ([]byte, error)
	NewChangeDetector() *metasync.ChangeDetector
}

// Inspector is the read-only view served over HTTP.
type Inspector interface {
	Source() uint64
	Objects() []metasync.ObjectInfo
	Object(oid rdx.ID) (metasync.ObjectInfo, error)
}

var (
	_ StreamHost = (*metasync.Replica)(nil)
	_ Inspector  = (*metasync.Replica)(nil)
)
