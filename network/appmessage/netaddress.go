package appmessage

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

// MaxPeerAddressesPerMessage bounds the peer list carried by handshake and
// timed sync responses.
const MaxPeerAddressesPerMessage = 250

// peerAddressSize is the wire size of one peer list entry:
// IPv4 + port + last seen.
const peerAddressSize = 4 + 2 + 8

// PeerAddress is one peer list entry as exchanged on the wire.
type PeerAddress struct {
	IP       [4]byte
	Port     uint16
	LastSeen uint64
}

// TCPAddress renders the entry as host:port.
func (a *PeerAddress) TCPAddress() string {
	return fmt.Sprintf("%s:%d", net.IP(a.IP[:]).String(), a.Port)
}

// NewPeerAddress parses a host:port string into a wire entry. Only IPv4
// literals are representable.
func NewPeerAddress(address string, lastSeen uint64) (*PeerAddress, error) {
	host, portString, err := net.SplitHostPort(address)
	if err != nil {
		return nil, errors.Wrapf(err, "bad peer address %q", address)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return nil, errors.Errorf("peer address %q is not an IPv4 literal", address)
	}
	var port uint16
	if _, err := fmt.Sscanf(portString, "%d", &port); err != nil {
		return nil, errors.Wrapf(err, "bad port in peer address %q", address)
	}
	entry := &PeerAddress{Port: port, LastSeen: lastSeen}
	copy(entry.IP[:], ip.To4())
	return entry, nil
}

func writePeerAddressList(w io.Writer, addresses []*PeerAddress) error {
	if err := binaryserializer.PutVarInt(w, uint64(len(addresses))); err != nil {
		return err
	}
	for _, address := range addresses {
		if _, err := w.Write(address.IP[:]); err != nil {
			return errors.WithStack(err)
		}
		if err := binaryserializer.PutUint8(w, byte(address.Port)); err != nil {
			return err
		}
		if err := binaryserializer.PutUint8(w, byte(address.Port>>8)); err != nil {
			return err
		}
		if err := binaryserializer.PutUint64(w, binary.LittleEndian, address.LastSeen); err != nil {
			return err
		}
	}
	return nil
}

func readPeerAddressList(r io.Reader) ([]*PeerAddress, error) {
	count, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, err
	}
	if count > MaxPeerAddressesPerMessage {
		return nil, errors.Wrapf(ErrMalformedFrame, "peer list of %d entries, limit %d",
			count, MaxPeerAddressesPerMessage)
	}
	addresses := make([]*PeerAddress, count)
	for i := range addresses {
		entry := &PeerAddress{}
		if _, err := io.ReadFull(r, entry.IP[:]); err != nil {
			return nil, errors.WithStack(err)
		}
		low, err := binaryserializer.Uint8(r)
		if err != nil {
			return nil, err
		}
		high, err := binaryserializer.Uint8(r)
		if err != nil {
			return nil, err
		}
		entry.Port = uint16(low) | uint16(high)<<8
		if entry.LastSeen, err = binaryserializer.Uint64(r, binary.LittleEndian); err != nil {
			return nil, err
		}
		addresses[i] = entry
	}
	return addresses, nil
}
