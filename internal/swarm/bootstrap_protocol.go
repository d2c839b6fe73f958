package swarm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// BootstrapProtocolID is the libp2p stream protocol the bootstrap
// directory speaks — distinct from ProtocolID so a directory peer
// never gets routed into the wopr handshake by accident.
const BootstrapProtocolID = "/wopr/bootstrap/1.0.0"

// Message types, adapted from the teacher's internal/node/protocol.go
// registration dance, minus the HPKE-pub/key-id fields that protocol
// carried: bootstrap registration here is purely "who I am and how to
// reach me", not a key exchange.
const (
	msgRegister     byte = 1
	msgRegisterOK   byte = 2
	msgRegisterFail byte = 3
	msgPeerList     byte = 4
	msgPeerJoined   byte = 5
	msgPeerLeft     byte = 6
)

type bootstrapRegister struct {
	Nickname string
	Token    string
}

type bootstrapRegisterOK struct {
	PeerID peer.ID
}

type bootstrapRegisterFail struct {
	Reason string
}

type bootstrapPeerInfo struct {
	Nickname string
	PeerID   peer.ID
	Addrs    []multiaddr.Multiaddr
}

type bootstrapPeerList struct {
	Peers []bootstrapPeerInfo
}

type bootstrapPeerLeft struct {
	Nickname string
}

func writeBlob(w io.Writer, b []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlob(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeString(w io.Writer, s string) error { return writeBlob(w, []byte(s)) }

func readString(r io.Reader) (string, error) {
	b, err := readBlob(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeMsg(w io.Writer, typ byte, payload []byte) error {
	total := uint32(1 + len(payload))
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], total)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{typ}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readMsg(r io.Reader) (byte, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n < 1 {
		return 0, nil, fmt.Errorf("bootstrap: bad message length")
	}
	var typ [1]byte
	if _, err := io.ReadFull(r, typ[:]); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, n-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ[0], payload, nil
}

func encodeRegister(r *bootstrapRegister) []byte {
	var b bytes.Buffer
	writeString(&b, r.Nickname)
	writeString(&b, r.Token)
	return b.Bytes()
}

func decodeRegister(data []byte) (*bootstrapRegister, error) {
	r := bytes.NewReader(data)
	nickname, err := readString(r)
	if err != nil {
		return nil, err
	}
	token, err := readString(r)
	if err != nil {
		return nil, err
	}
	return &bootstrapRegister{Nickname: nickname, Token: token}, nil
}

func encodeRegisterOK(r *bootstrapRegisterOK) []byte { return []byte(r.PeerID) }

func decodeRegisterOK(data []byte) *bootstrapRegisterOK {
	return &bootstrapRegisterOK{PeerID: peer.ID(data)}
}

func encodeRegisterFail(r *bootstrapRegisterFail) []byte { return []byte(r.Reason) }

func decodeRegisterFail(data []byte) *bootstrapRegisterFail {
	return &bootstrapRegisterFail{Reason: string(data)}
}

func encodePeerInfo(b *bytes.Buffer, p *bootstrapPeerInfo) {
	writeString(b, p.Nickname)
	writeString(b, string(p.PeerID))
	binary.Write(b, binary.BigEndian, uint32(len(p.Addrs)))
	for _, addr := range p.Addrs {
		writeBlob(b, addr.Bytes())
	}
}

func decodePeerInfo(r io.Reader) (*bootstrapPeerInfo, error) {
	nickname, err := readString(r)
	if err != nil {
		return nil, err
	}
	idStr, err := readString(r)
	if err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	addrs := make([]multiaddr.Multiaddr, count)
	for i := range addrs {
		raw, err := readBlob(r)
		if err != nil {
			return nil, err
		}
		addr, err := multiaddr.NewMultiaddrBytes(raw)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return &bootstrapPeerInfo{Nickname: nickname, PeerID: peer.ID(idStr), Addrs: addrs}, nil
}

func encodePeerJoined(p *bootstrapPeerInfo) []byte {
	var b bytes.Buffer
	encodePeerInfo(&b, p)
	return b.Bytes()
}

func decodePeerJoined(data []byte) (*bootstrapPeerInfo, error) {
	return decodePeerInfo(bytes.NewReader(data))
}

func encodePeerLeft(p *bootstrapPeerLeft) []byte { return []byte(p.Nickname) }

func decodePeerLeft(data []byte) *bootstrapPeerLeft {
	return &bootstrapPeerLeft{Nickname: string(data)}
}

func encodePeerList(p *bootstrapPeerList) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.BigEndian, uint32(len(p.Peers)))
	for _, pi := range p.Peers {
		encodePeerInfo(&b, &pi)
	}
	return b.Bytes()
}

func decodePeerList(data []byte) (*bootstrapPeerList, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	peers := make([]bootstrapPeerInfo, count)
	for i := range peers {
		pi, err := decodePeerInfo(r)
		if err != nil {
			return nil, err
		}
		peers[i] = *pi
	}
	return &bootstrapPeerList{Peers: peers}, nil
}
