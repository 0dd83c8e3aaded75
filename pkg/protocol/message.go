package protocol

import (
	"encoding/binary"
	"fmt"
)

// Message flags
const (
	MsgFlagIsRelay           uint8 = 0x01
	MsgFlagIsPrivate         uint8 = 0x02
	MsgFlagHasOriginalSender uint8 = 0x04
	MsgFlagHasRecipientNick  uint8 = 0x08
	MsgFlagHasMentions       uint8 = 0x10
	MsgFlagHasChannel        uint8 = 0x20
	MsgFlagEncrypted         uint8 = 0x40
)

// Message represents application-level chat content carried in a
// PacketTypeMessage payload. For private messages the encoded bytes are
// padded (see padding.go) before encryption.
type Message struct {
	ID                string
	SenderNickname    string
	SenderPeerID      PeerID
	Content           string
	EncryptedContent  []byte // Channel-encrypted payload; Content empty
	Timestamp         uint64 // Unix milliseconds
	IsRelay           bool
	IsPrivate         bool
	IsEncrypted       bool // Content slot carries channel ciphertext
	OriginalSender    string // Set when relayed on behalf of another node
	RecipientNickname string // Private messages only
	Mentions          []string
	Channel           string
}

func writeShortString(buf []byte, offset int, s string) int {
	buf[offset] = uint8(len(s))
	offset++
	copy(buf[offset:], s)
	return offset + len(s)
}

func readShortString(buf []byte, offset int) (string, int, error) {
	if offset >= len(buf) {
		return "", 0, ErrMalformedPacket
	}
	n := int(buf[offset])
	offset++
	if offset+n > len(buf) {
		return "", 0, ErrMalformedPacket
	}
	return string(buf[offset : offset+n]), offset + n, nil
}

func shortLen(s string) int {
	if len(s) > 255 {
		return 256
	}
	return 1 + len(s)
}

// Encode encodes the message to bytes. Short strings are capped at 255
// bytes; content carries a 2-byte length.
func (m *Message) Encode() ([]byte, error) {
	if len(m.ID) > 255 || len(m.SenderNickname) > 255 || len(m.OriginalSender) > 255 ||
		len(m.RecipientNickname) > 255 || len(m.Channel) > 255 {
		return nil, fmt.Errorf("message field exceeds 255 bytes")
	}
	content := []byte(m.Content)
	if m.IsEncrypted {
		content = m.EncryptedContent
	}
	if len(content) > 65535 {
		return nil, fmt.Errorf("message content exceeds 65535 bytes")
	}
	if len(m.Mentions) > 255 {
		return nil, fmt.Errorf("too many mentions")
	}

	var flags uint8
	if m.IsRelay {
		flags |= MsgFlagIsRelay
	}
	if m.IsPrivate {
		flags |= MsgFlagIsPrivate
	}
	if m.OriginalSender != "" {
		flags |= MsgFlagHasOriginalSender
	}
	if m.RecipientNickname != "" {
		flags |= MsgFlagHasRecipientNick
	}
	if len(m.Mentions) > 0 {
		flags |= MsgFlagHasMentions
	}
	if m.Channel != "" {
		flags |= MsgFlagHasChannel
	}
	if m.IsEncrypted {
		flags |= MsgFlagEncrypted
	}

	size := 1 + 8 + shortLen(m.ID) + shortLen(m.SenderNickname) + 4 + 2 + len(content)
	if flags&MsgFlagHasOriginalSender != 0 {
		size += shortLen(m.OriginalSender)
	}
	if flags&MsgFlagHasRecipientNick != 0 {
		size += shortLen(m.RecipientNickname)
	}
	if flags&MsgFlagHasMentions != 0 {
		size++
		for _, mention := range m.Mentions {
			if len(mention) > 255 {
				return nil, fmt.Errorf("mention exceeds 255 bytes")
			}
			size += shortLen(mention)
		}
	}
	if flags&MsgFlagHasChannel != 0 {
		size += shortLen(m.Channel)
	}

	buf := make([]byte, size)
	offset := 0

	buf[offset] = flags
	offset++

	binary.BigEndian.PutUint64(buf[offset:], m.Timestamp)
	offset += 8

	offset = writeShortString(buf, offset, m.ID)
	offset = writeShortString(buf, offset, m.SenderNickname)

	copy(buf[offset:], m.SenderPeerID[:])
	offset += 4

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(content)))
	offset += 2
	copy(buf[offset:], content)
	offset += len(content)

	if flags&MsgFlagHasOriginalSender != 0 {
		offset = writeShortString(buf, offset, m.OriginalSender)
	}
	if flags&MsgFlagHasRecipientNick != 0 {
		offset = writeShortString(buf, offset, m.RecipientNickname)
	}
	if flags&MsgFlagHasMentions != 0 {
		buf[offset] = uint8(len(m.Mentions))
		offset++
		for _, mention := range m.Mentions {
			offset = writeShortString(buf, offset, mention)
		}
	}
	if flags&MsgFlagHasChannel != 0 {
		writeShortString(buf, offset, m.Channel)
	}

	return buf, nil
}

// DecodeMessage decodes an application message from payload bytes
func DecodeMessage(buf []byte) (*Message, error) {
	if len(buf) < 1+8 {
		return nil, ErrMalformedPacket
	}

	m := &Message{}
	offset := 0

	flags := buf[offset]
	offset++
	m.IsRelay = flags&MsgFlagIsRelay != 0
	m.IsPrivate = flags&MsgFlagIsPrivate != 0

	m.Timestamp = binary.BigEndian.Uint64(buf[offset:])
	offset += 8

	var err error
	if m.ID, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}
	if m.SenderNickname, offset, err = readShortString(buf, offset); err != nil {
		return nil, err
	}

	if offset+4 > len(buf) {
		return nil, ErrMalformedPacket
	}
	copy(m.SenderPeerID[:], buf[offset:offset+4])
	offset += 4

	if offset+2 > len(buf) {
		return nil, ErrMalformedPacket
	}
	contentLen := int(binary.BigEndian.Uint16(buf[offset:]))
	offset += 2
	if offset+contentLen > len(buf) {
		return nil, ErrMalformedPacket
	}
	m.IsEncrypted = flags&MsgFlagEncrypted != 0
	if m.IsEncrypted {
		m.EncryptedContent = make([]byte, contentLen)
		copy(m.EncryptedContent, buf[offset:offset+contentLen])
	} else {
		m.Content = string(buf[offset : offset+contentLen])
	}
	offset += contentLen

	if flags&MsgFlagHasOriginalSender != 0 {
		if m.OriginalSender, offset, err = readShortString(buf, offset); err != nil {
			return nil, err
		}
	}
	if flags&MsgFlagHasRecipientNick != 0 {
		if m.RecipientNickname, offset, err = readShortString(buf, offset); err != nil {
			return nil, err
		}
	}
	if flags&MsgFlagHasMentions != 0 {
		if offset >= len(buf) {
			return nil, ErrMalformedPacket
		}
		count := int(buf[offset])
		offset++
		m.Mentions = make([]string, 0, count)
		for i := 0; i < count; i++ {
			var mention string
			if mention, offset, err = readShortString(buf, offset); err != nil {
				return nil, err
			}
			m.Mentions = append(m.Mentions, mention)
		}
	}
	if flags&MsgFlagHasChannel != 0 {
		if m.Channel, _, err = readShortString(buf, offset); err != nil {
			return nil, err
		}
	}

	return m, nil
}
