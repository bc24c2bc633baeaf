package transient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Staged payload codecs. Each payload kind carries its own version byte
// so a format change never misparses old values still living out their
// TTL.

const (
	loginChallengeVersion1 = 1
	pendingLinkVersion1    = 1
	pendingSignupVersion1  = 1
)

// LoginChallenge is the state staged between a correct password and the
// TOTP code submission, keyed by a random nonce.
type LoginChallenge struct {
	UserUUID   string
	RememberMe bool
	IP         string
	UserAgent  string
	IssuedAt   int64
}

// EncodeLoginChallenge serializes a LoginChallenge.
func EncodeLoginChallenge(c *LoginChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(loginChallengeVersion1)
	if c.RememberMe {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, c.IssuedAt); err != nil {
		return nil, err
	}
	for _, s := range []string{c.UserUUID, c.IP, c.UserAgent} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeLoginChallenge deserializes a LoginChallenge.
func DecodeLoginChallenge(data []byte) (*LoginChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != loginChallengeVersion1 {
		return nil, errors.New("invalid login challenge version")
	}

	remember, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	c := &LoginChallenge{RememberMe: remember == 1}
	if err := binary.Read(reader, binary.BigEndian, &c.IssuedAt); err != nil {
		return nil, err
	}
	for _, dst := range []*string{&c.UserUUID, &c.IP, &c.UserAgent} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// PendingLink is a provider link awaiting email confirmation, keyed by
// the linking user's uuid.
type PendingLink struct {
	Provider   string
	ProviderID string
	Email      string
}

// EncodePendingLink serializes a PendingLink.
func EncodePendingLink(p *PendingLink) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingLinkVersion1)
	for _, s := range []string{p.Provider, p.ProviderID, p.Email} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodePendingLink deserializes a PendingLink.
func DecodePendingLink(data []byte) (*PendingLink, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingLinkVersion1 {
		return nil, errors.New("invalid pending link version")
	}

	p := &PendingLink{}
	for _, dst := range []*string{&p.Provider, &p.ProviderID, &p.Email} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PendingSignup is a registration awaiting email confirmation, keyed by
// the normalized email. The user row is created only on confirmation.
type PendingSignup struct {
	Email        string
	Login        string
	PasswordHash string
}

// EncodePendingSignup serializes a PendingSignup.
func EncodePendingSignup(p *PendingSignup) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingSignupVersion1)
	for _, s := range []string{p.Email, p.Login, p.PasswordHash} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodePendingSignup deserializes a PendingSignup.
func DecodePendingSignup(data []byte) (*PendingSignup, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingSignupVersion1 {
		return nil, errors.New("invalid pending signup version")
	}

	p := &PendingSignup{}
	for _, dst := range []*string{&p.Email, &p.Login, &p.PasswordHash} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("staged string too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
