package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Room codes use an alphabet without 0/O and 1/I/L.
const (
	RoomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	RoomCodeLength   = 6
)

// GenerateRoomCode draws a fresh room code.
func GenerateRoomCode() (string, error) {
	b := make([]byte, RoomCodeLength)
	max := big.NewInt(int64(len(RoomCodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = RoomCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeRoomCode upper-cases and validates a user-entered code.
func NormalizeRoomCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != RoomCodeLength {
		return "", &ValidationError{Field: "room code", Reason: "must be 6 characters"}
	}
	for _, c := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, c) {
			return "", &ValidationError{Field: "room code", Reason: "contains an invalid character"}
		}
	}
	return code, nil
}

// NormalizeNickname trims and validates a nickname.
func NormalizeNickname(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", &ValidationError{Field: "nickname", Reason: "must not be empty"}
	}
	if len([]rune(name)) > NicknameMaxLength {
		return "", &ValidationError{Field: "nickname", Reason: "must be at most 20 characters"}
	}
	return name, nil
}
