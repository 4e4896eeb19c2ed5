package rpc

import (
	"net"

	"golang.org/x/sys/unix"
)

// PeerCred is the kernel-attested identity of a unix socket's connecting
// process, read via SO_PEERCRED. Unlike anything a client can put in a
// request body, this cannot be forged by the process on the other end
// of the socket.
type PeerCred struct {
	PID int32
	UID uint32
	GID uint32
}

// peerCredOf reads the connecting process's credentials off conn's raw
// file descriptor. Every accepted connection is credentialed once, up
// front, before any request on it is dispatched.
func peerCredOf(conn *net.UnixConn) (PeerCred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return PeerCred{}, err
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return PeerCred{}, ctrlErr
	}
	if sockErr != nil {
		return PeerCred{}, sockErr
	}
	return PeerCred{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
