package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAuthUnixCredentials() *UnixAuth {
	return &UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: "testhost",
		UID:         1000,
		GID:         1000,
		GIDs:        []uint32{4, 24, 27, 30},
	}
}

func encodeAuthUnix(auth *UnixAuth) []byte {
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.BigEndian, auth.Stamp)

	nameLen := uint32(len(auth.MachineName))
	_ = binary.Write(buf, binary.BigEndian, nameLen)
	buf.WriteString(auth.MachineName)
	padding := (4 - (nameLen % 4)) % 4
	for i := uint32(0); i < padding; i++ {
		buf.WriteByte(0)
	}

	_ = binary.Write(buf, binary.BigEndian, auth.UID)
	_ = binary.Write(buf, binary.BigEndian, auth.GID)

	_ = binary.Write(buf, binary.BigEndian, uint32(len(auth.GIDs)))
	for _, gid := range auth.GIDs {
		_ = binary.Write(buf, binary.BigEndian, gid)
	}

	return buf.Bytes()
}

func TestParseUnixAuth(t *testing.T) {
	t.Run("ParsesValidCredentials", func(t *testing.T) {
		original := validAuthUnixCredentials()
		body := encodeAuthUnix(original)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, original.Stamp, parsed.Stamp)
		assert.Equal(t, original.MachineName, parsed.MachineName)
		assert.Equal(t, original.UID, parsed.UID)
		assert.Equal(t, original.GID, parsed.GID)
		assert.Equal(t, original.GIDs, parsed.GIDs)
	})

	t.Run("ParsesRootCredentials", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       uint32(time.Now().Unix()),
			MachineName: "testhost",
			UID:         0,
			GID:         0,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), parsed.UID)
		assert.Equal(t, uint32(0), parsed.GID)
		assert.Empty(t, parsed.GIDs)
	})

	t.Run("ParsesWithMaximumGroups", func(t *testing.T) {
		gids := make([]uint32, 16)
		for i := range gids {
			gids[i] = uint32(i + 1000)
		}

		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        gids,
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Len(t, parsed.GIDs, 16)
		assert.Equal(t, gids, parsed.GIDs)
	})

	t.Run("RejectsExcessiveGroups", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(8))
		_, _ = buf.WriteString("testhost")
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(17)) // Too many groups

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many gids")
	})

	t.Run("RejectsLongMachineName", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(256)) // Too long

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "machine name too long")
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		_, err := ParseUnixAuth([]byte{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("HandlesEmptyMachineName", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, "", parsed.MachineName)
	})
}

func TestUnixAuthString(t *testing.T) {
	t.Run("FormatsCorrectly", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{4, 24, 27, 30},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "1000")
		assert.Contains(t, str, "[4 24 27 30]")
	})

	t.Run("FormatsEmptyGroups", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "[]")
	})
}

func TestAuthFlavors(t *testing.T) {
	t.Run("AuthNullValue", func(t *testing.T) {
		assert.Equal(t, uint32(0), AuthNull)
	})

	t.Run("AuthUnixValue", func(t *testing.T) {
		assert.Equal(t, uint32(1), AuthUnix)
	})

	t.Run("AuthShortValue", func(t *testing.T) {
		assert.Equal(t, uint32(2), AuthShort)
	})

	t.Run("AuthDESValue", func(t *testing.T) {
		assert.Equal(t, uint32(3), AuthDES)
	})

	t.Run("FlavorsAreUnique", func(t *testing.T) {
		flavors := []uint32{AuthNull, AuthUnix, AuthShort, AuthDES}

		seen := make(map[uint32]bool)
		for _, flavor := range flavors {
			assert.False(t, seen[flavor], "flavor %d is not unique", flavor)
			seen[flavor] = true
		}
	})
}

func buildCall(t *testing.T, xid, prog, vers, proc uint32, cred OpaqueAuth, args []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	for _, v := range []uint32{xid, RPCCall, RPCVersion2, prog, vers, proc} {
		require.NoError(t, binary.Write(buf, binary.BigEndian, v))
	}
	for _, auth := range []OpaqueAuth{cred, {Flavor: AuthNull}} {
		require.NoError(t, binary.Write(buf, binary.BigEndian, auth.Flavor))
		require.NoError(t, binary.Write(buf, binary.BigEndian, uint32(len(auth.Body))))
		buf.Write(auth.Body)
		buf.Write(make([]byte, XdrPadding(uint32(len(auth.Body)))))
	}
	buf.Write(args)
	return buf.Bytes()
}

func TestReadCall(t *testing.T) {
	t.Run("ParsesHeaderAndArguments", func(t *testing.T) {
		cred := OpaqueAuth{Flavor: AuthUnix, Body: encodeAuthUnix(validAuthUnixCredentials())}
		msg := buildCall(t, 42, ProgramNFS, NFSVersion3, 1, cred, []byte{0, 0, 0, 7})

		call, err := ReadCall(msg)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), call.XID)
		assert.Equal(t, uint32(ProgramNFS), call.Program)
		assert.Equal(t, uint32(NFSVersion3), call.Version)
		assert.Equal(t, uint32(1), call.Procedure)
		assert.Equal(t, AuthUnix, call.GetAuthFlavor())
		assert.Equal(t, cred.Body, call.GetAuthBody())

		args, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 7}, args)
	})

	t.Run("NoArguments", func(t *testing.T) {
		msg := buildCall(t, 1, ProgramMount, MountVersion3, 0, OpaqueAuth{Flavor: AuthNull}, nil)
		call, err := ReadCall(msg)
		require.NoError(t, err)
		args, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Empty(t, args)
	})

	t.Run("RejectsTruncatedHeader", func(t *testing.T) {
		_, err := ReadCall([]byte{0, 0, 0, 1, 0, 0})
		assert.ErrorIs(t, err, ErrShortMessage)
	})

	t.Run("RejectsOversizedCredential", func(t *testing.T) {
		msg := buildCall(t, 1, ProgramNFS, NFSVersion3, 0, OpaqueAuth{Flavor: AuthNull}, nil)
		binary.BigEndian.PutUint32(msg[28:32], 1<<30)
		_, err := ReadCall(msg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("RejectsReplyMessage", func(t *testing.T) {
		msg := buildCall(t, 1, ProgramNFS, NFSVersion3, 0, OpaqueAuth{Flavor: AuthNull}, nil)
		binary.BigEndian.PutUint32(msg[4:8], RPCReply)
		_, err := ReadCall(msg)
		require.Error(t, err)
	})
}

func TestReplies(t *testing.T) {
	t.Run("SuccessReplyCarriesBody", func(t *testing.T) {
		reply, err := MakeSuccessReply(7, []byte{1, 2, 3, 4})
		require.NoError(t, err)
		require.Len(t, reply, 28)
		assert.Equal(t, uint32(7), binary.BigEndian.Uint32(reply[0:4]))
		assert.Equal(t, uint32(RPCReply), binary.BigEndian.Uint32(reply[4:8]))
		assert.Equal(t, uint32(RPCMsgAccepted), binary.BigEndian.Uint32(reply[8:12]))
		assert.Equal(t, uint32(RPCSuccess), binary.BigEndian.Uint32(reply[20:24]))
		assert.Equal(t, []byte{1, 2, 3, 4}, reply[24:])
	})

	t.Run("ErrorReplyHasNoBody", func(t *testing.T) {
		reply, err := MakeErrorReply(9, RPCGarbageArgs)
		require.NoError(t, err)
		require.Len(t, reply, 24)
		assert.Equal(t, uint32(RPCGarbageArgs), binary.BigEndian.Uint32(reply[20:24]))
	})

	t.Run("ProgMismatchCarriesRange", func(t *testing.T) {
		reply, err := MakeProgMismatchReply(3, MountVersion1, MountVersion3)
		require.NoError(t, err)
		require.Len(t, reply, 32)
		assert.Equal(t, uint32(RPCProgMismatch), binary.BigEndian.Uint32(reply[20:24]))
		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(reply[24:28]))
		assert.Equal(t, uint32(3), binary.BigEndian.Uint32(reply[28:32]))
	})

	t.Run("RPCMismatchIsDenied", func(t *testing.T) {
		reply, err := MakeRPCMismatchReply(5)
		require.NoError(t, err)
		require.Len(t, reply, 24)
		assert.Equal(t, uint32(RPCMsgDenied), binary.BigEndian.Uint32(reply[8:12]))
		assert.Equal(t, uint32(RPCMismatch), binary.BigEndian.Uint32(reply[12:16]))
	})
}

func TestRecordMarking(t *testing.T) {
	t.Run("RoundTripsSingleFragment", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteRecord(&buf, []byte("hello")))
		assert.Equal(t, uint32(LastFragmentBit|5), binary.BigEndian.Uint32(buf.Bytes()[:4]))

		got, err := ReadRecord(&buf, 1024)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)
	})

	t.Run("ReassemblesFragments", func(t *testing.T) {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.BigEndian, uint32(3))
		buf.WriteString("abc")
		_ = binary.Write(&buf, binary.BigEndian, uint32(LastFragmentBit|2))
		buf.WriteString("de")

		got, err := ReadRecord(&buf, 1024)
		require.NoError(t, err)
		assert.Equal(t, []byte("abcde"), got)
	})

	t.Run("RejectsOversizedRecord", func(t *testing.T) {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.BigEndian, uint32(LastFragmentBit|4096))
		_, err := ReadRecord(&buf, 1024)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds limit")
	})
}
