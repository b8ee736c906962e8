// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package appmessage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = 32 * 1024 * 1024 // 32MB

// envelopeHeaderSize is the fixed byte size of the frame header that
// precedes every payload: payload length, command, flags, request id.
const envelopeHeaderSize = 4 + 4 + 1 + 8

// envelopeFlagResponse marks a frame as the response half of a
// request/response pair.
const envelopeFlagResponse = 0x01

// MessageCommand is a number in the header of a frame that represents its
// type.
type MessageCommand uint32

// Commands used in Cache frame headers which describe the type of message.
const (
	CmdHandshake          MessageCommand = 1001
	CmdTimedSync          MessageCommand = 1002
	CmdNewBlock           MessageCommand = 2001
	CmdNewTransactions    MessageCommand = 2002
	CmdRequestGetObjects  MessageCommand = 2003
	CmdResponseGetObjects MessageCommand = 2004
	CmdRequestChain       MessageCommand = 2006
	CmdResponseChainEntry MessageCommand = 2007
)

var messageCommandToString = map[MessageCommand]string{
	CmdHandshake:          "Handshake",
	CmdTimedSync:          "TimedSync",
	CmdNewBlock:           "NewBlock",
	CmdNewTransactions:    "NewTransactions",
	CmdRequestGetObjects:  "RequestGetObjects",
	CmdResponseGetObjects: "ResponseGetObjects",
	CmdRequestChain:       "RequestChain",
	CmdResponseChainEntry: "ResponseChainEntry",
}

func (cmd MessageCommand) String() string {
	cmdString, ok := messageCommandToString[cmd]
	if !ok {
		cmdString = "unknown command"
	}
	return fmt.Sprintf("%s [code %d]", cmdString, uint32(cmd))
}

// Message is an interface that describes a Cache protocol message. A type
// that implements Message has complete control over the representation of
// its data and may therefore contain additional or fewer fields than those
// which are used directly in the protocol encoded message.
type Message interface {
	// CacheEncode encodes the receiver using the Cache protocol encoding.
	CacheEncode(w io.Writer) error

	// CacheDecode decodes the receiver using the Cache protocol encoding.
	CacheDecode(r io.Reader) error

	// Command returns the protocol command of the message.
	Command() MessageCommand

	// MaxPayloadLength returns the maximum length the payload can be.
	MaxPayloadLength() uint32
}

// Envelope is one framed message together with its routing metadata.
type Envelope struct {
	Message    Message
	IsResponse bool
	RequestID  uint64
}

// ErrMalformedFrame is returned for any framing violation: oversized
// payload, unknown command, or trailing garbage. Peers sending such frames
// are dropped and penalized.
var ErrMalformedFrame = errors.New("malformed frame")

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func makeEmptyMessage(command MessageCommand) (Message, error) {
	switch command {
	case CmdHandshake:
		return &MsgHandshake{}, nil
	case CmdTimedSync:
		return &MsgTimedSync{}, nil
	case CmdNewBlock:
		return &MsgNewBlock{}, nil
	case CmdNewTransactions:
		return &MsgNewTransactions{}, nil
	case CmdRequestGetObjects:
		return &MsgRequestGetObjects{}, nil
	case CmdResponseGetObjects:
		return &MsgResponseGetObjects{}, nil
	case CmdRequestChain:
		return &MsgRequestChain{}, nil
	case CmdResponseChainEntry:
		return &MsgResponseChainEntry{}, nil
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "unhandled command %d", command)
	}
}

// WriteEnvelope frames and writes a message to w.
func WriteEnvelope(w io.Writer, envelope *Envelope) error {
	var payload bytes.Buffer
	if err := envelope.Message.CacheEncode(&payload); err != nil {
		return err
	}
	if uint32(payload.Len()) > envelope.Message.MaxPayloadLength() {
		return errors.Wrapf(ErrMalformedFrame,
			"outgoing %s payload of %d bytes exceeds its limit %d",
			envelope.Message.Command(), payload.Len(), envelope.Message.MaxPayloadLength())
	}

	header := make([]byte, envelopeHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(payload.Len()))
	binary.LittleEndian.PutUint32(header[4:], uint32(envelope.Message.Command()))
	if envelope.IsResponse {
		header[8] = envelopeFlagResponse
	}
	binary.LittleEndian.PutUint64(header[9:], envelope.RequestID)

	if _, err := w.Write(header); err != nil {
		return errors.WithStack(err)
	}
	_, err := w.Write(payload.Bytes())
	return errors.WithStack(err)
}

// ReadEnvelope reads and decodes one framed message from r. Violations of
// the per-command payload limit or decoders leaving bytes unconsumed are
// protocol errors.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	header := make([]byte, envelopeHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.WithStack(err)
	}

	payloadLength := binary.LittleEndian.Uint32(header[0:])
	command := MessageCommand(binary.LittleEndian.Uint32(header[4:]))
	isResponse := header[8]&envelopeFlagResponse != 0
	requestID := binary.LittleEndian.Uint64(header[9:])

	if payloadLength > MaxMessagePayload {
		return nil, errors.Wrapf(ErrMalformedFrame,
			"frame of %d bytes exceeds the global payload limit", payloadLength)
	}
	message, err := makeEmptyMessage(command)
	if err != nil {
		return nil, err
	}
	if payloadLength > message.MaxPayloadLength() {
		return nil, errors.Wrapf(ErrMalformedFrame,
			"%s frame of %d bytes exceeds its limit %d",
			command, payloadLength, message.MaxPayloadLength())
	}

	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.WithStack(err)
	}
	payloadReader := bytes.NewReader(payload)
	if err := message.CacheDecode(payloadReader); err != nil {
		return nil, err
	}
	if payloadReader.Len() != 0 {
		return nil, errors.Wrapf(ErrMalformedFrame,
			"%s frame has %d trailing bytes", command, payloadReader.Len())
	}

	return &Envelope{Message: message, IsResponse: isResponse, RequestID: requestID}, nil
}

// writeByteSlice writes a length-prefixed byte string.
func writeByteSlice(w io.Writer, data []byte) error {
	if err := binaryserializer.PutVarInt(w, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return errors.WithStack(err)
}

// readByteSlice reads a length-prefixed byte string bounded by limit.
func readByteSlice(r io.Reader, limit uint64) ([]byte, error) {
	length, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, err
	}
	if length > limit {
		return nil, errors.Wrapf(ErrMalformedFrame, "byte string of %d bytes, limit %d",
			length, limit)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}
