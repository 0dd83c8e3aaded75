package protocol

import (
	"encoding/binary"
)

// DeliveryAck acknowledges that a private message reached its recipient
type DeliveryAck struct {
	OriginalMessageID string
	AckID             string
	RecipientID       PeerID
	RecipientNickname string
	HopCount          uint8
	Timestamp         uint64 // Unix milliseconds
}

// Encode encodes the delivery ack to bytes
func (a *DeliveryAck) Encode() []byte {
	size := shortLen(a.OriginalMessageID) + shortLen(a.AckID) + 4 + shortLen(a.RecipientNickname) + 1 + 8
	buf := make([]byte, size)
	offset := 0

	offset = writeShortString(buf, offset, a.OriginalMessageID)
	offset = writeShortString(buf, offset, a.AckID)

	copy(buf[offset:], a.RecipientID[:])
	offset += 4

	offset = writeShortString(buf, offset, a.RecipientNickname)

	buf[offset] = a.HopCount
	offset++

	binary.BigEndian.PutUint64(buf[offset:], a.Timestamp)

	return buf
}

// DecodeDeliveryAck decodes a delivery ack from payload bytes
func DecodeDeliveryAck(buf []byte) (*DeliveryAck, error) {
	a := &DeliveryAck{}
	offset := 0

	var err error
	if a.OriginalMessageID, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}
	if a.AckID, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}

	if offset+4 > len(buf) {
		return nil, ErrMalformedPacket
	}
	copy(a.RecipientID[:], buf[offset:offset+4])
	offset += 4

	if a.RecipientNickname, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}

	if offset+9 > len(buf) {
		return nil, ErrMalformedPacket
	}
	a.HopCount = buf[offset]
	offset++
	a.Timestamp = binary.BigEndian.Uint64(buf[offset:])

	return a, nil
}

// ReadReceipt signals that a private message was read by its recipient
type ReadReceipt struct {
	OriginalMessageID string
	ReceiptID         string
	ReaderID          PeerID
	ReaderNickname    string
	Timestamp         uint64 // Unix milliseconds
}

// Encode encodes the read receipt to bytes
func (r *ReadReceipt) Encode() []byte {
	size := shortLen(r.OriginalMessageID) + shortLen(r.ReceiptID) + 4 + shortLen(r.ReaderNickname) + 8
	buf := make([]byte, size)
	offset := 0

	offset = writeShortString(buf, offset, r.OriginalMessageID)
	offset = writeShortString(buf, offset, r.ReceiptID)

	copy(buf[offset:], r.ReaderID[:])
	offset += 4

	offset = writeShortString(buf, offset, r.ReaderNickname)

	binary.BigEndian.PutUint64(buf[offset:], r.Timestamp)

	return buf
}

// DecodeReadReceipt decodes a read receipt from payload bytes
func DecodeReadReceipt(buf []byte) (*ReadReceipt, error) {
	r := &ReadReceipt{}
	offset := 0

	var err error
	if r.OriginalMessageID, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}
	if r.ReceiptID, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}

	if offset+4 > len(buf) {
		return nil, ErrMalformedPacket
	}
	copy(r.ReaderID[:], buf[offset:offset+4])
	offset += 4

	if r.ReaderNickname, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}

	if offset+8 > len(buf) {
		return nil, ErrMalformedPacket
	}
	r.Timestamp = binary.BigEndian.Uint64(buf[offset:])

	return r, nil
}
