package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxMachineName = 255
	maxAuthGIDs    = 16
)

// UnixAuth is the body of an AUTH_UNIX (AUTH_SYS) credential.
//
//	struct authsys_parms {
//	    unsigned int stamp;
//	    string machinename<255>;
//	    unsigned int uid;
//	    unsigned int gid;
//	    unsigned int gids<16>;
//	};
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, errors.New("empty auth body")
	}

	reader := bytes.NewReader(body)
	auth := &UnixAuth{}

	if err := binary.Read(reader, binary.BigEndian, &auth.Stamp); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}

	var nameLen uint32
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("read machine name length: %w", err)
	}
	if nameLen > maxMachineName {
		return nil, fmt.Errorf("machine name too long: %d", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(reader, name); err != nil {
		return nil, fmt.Errorf("read machine name: %w", err)
	}
	auth.MachineName = string(name)
	if pad := XdrPadding(nameLen); pad > 0 {
		if _, err := reader.Seek(int64(pad), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip machine name padding: %w", err)
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &auth.UID); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &auth.GID); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	var ngids uint32
	if err := binary.Read(reader, binary.BigEndian, &ngids); err != nil {
		return nil, fmt.Errorf("read gid count: %w", err)
	}
	if ngids > maxAuthGIDs {
		return nil, fmt.Errorf("too many gids: %d", ngids)
	}
	auth.GIDs = make([]uint32, ngids)
	for i := range auth.GIDs {
		if err := binary.Read(reader, binary.BigEndian, &auth.GIDs[i]); err != nil {
			return nil, fmt.Errorf("read gid %d: %w", i, err)
		}
	}

	return auth, nil
}

func (a *UnixAuth) String() string {
	return fmt.Sprintf("machine=%s uid=%d gid=%d gids=%v", a.MachineName, a.UID, a.GID, a.GIDs)
}
