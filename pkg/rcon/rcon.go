package rcon

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
)

const defaultTimeout = 5 * time.Second

const (
	requestIDAuth = 1
	requestIDExec = 2

	packetAuth          = 3
	packetResponseValue = 0
	// packetExecCommand and packetAuthResponse share wire value 2: the Source
	// RCON protocol overloads SERVERDATA_EXECCOMMAND (request) and
	// SERVERDATA_AUTH_RESPONSE (reply) onto the same type id.
	packetExecCommand  = 2
	packetAuthResponse = 2
)

var errAuthRejected = errors.New("rcon: authentication rejected")

// Run dials addr fresh, authenticates with password, issues command, and
// returns its reply. Per spec §4.4: one connection per call, 5s timeout,
// no persistent pooling.
func Run(ctx context.Context, addr, password, command string) (string, error) {
	dialer := net.Dialer{Timeout: defaultTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", apierr.RconUnavailable(err, "dial rcon at %s", addr)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(defaultTimeout)); err != nil {
		return "", apierr.RconUnavailable(err, "set deadline for %s", addr)
	}

	if err := authenticate(conn, password); err != nil {
		return "", apierr.RconUnavailable(err, "authenticate to %s", addr)
	}

	if err := writePacket(conn, requestIDExec, packetExecCommand, command); err != nil {
		return "", apierr.RconUnavailable(err, "send command to %s", addr)
	}

	_, _, body, err := readPacket(conn)
	if err != nil {
		return "", apierr.RconUnavailable(err, "read command response from %s", addr)
	}
	return body, nil
}

func authenticate(conn net.Conn, password string) error {
	if err := writePacket(conn, requestIDAuth, packetAuth, password); err != nil {
		return err
	}
	id, ptype, _, err := readPacket(conn)
	if err != nil {
		return err
	}
	if ptype == packetResponseValue {
		// Minecraft's RCON sends an empty SERVERDATA_RESPONSE_VALUE ahead of
		// the real auth reply; consume it and read the next packet.
		id, _, _, err = readPacket(conn)
		if err != nil {
			return err
		}
	}
	if id != requestIDAuth {
		return errAuthRejected
	}
	return nil
}

func writePacket(w io.Writer, id, ptype int32, body string) error {
	payload := []byte(body)
	size := int32(4 + 4 + len(payload) + 2)

	buf := make([]byte, 0, 4+size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ptype))
	buf = append(buf, payload...)
	buf = append(buf, 0, 0)

	_, err := w.Write(buf)
	return err
}

const maxPacketSize = 4096 + 10

func readPacket(r io.Reader) (id, ptype int32, body string, err error) {
	var sizeBuf [4]byte
	if _, err = io.ReadFull(r, sizeBuf[:]); err != nil {
		return 0, 0, "", err
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < 10 || size > maxPacketSize {
		return 0, 0, "", fmt.Errorf("rcon: invalid packet size %d", size)
	}

	data := make([]byte, size)
	if _, err = io.ReadFull(r, data); err != nil {
		return 0, 0, "", err
	}

	id = int32(binary.LittleEndian.Uint32(data[0:4]))
	ptype = int32(binary.LittleEndian.Uint32(data[4:8]))
	body = string(bytes.TrimRight(data[8:len(data)-2], "\x00"))
	return id, ptype, body, nil
}
