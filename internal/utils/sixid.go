package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SixID is a 6-byte document identifier stored as BSON BinData with
// custom subtype 0x80 and rendered as 10 characters of Crockford Base32.
type SixID [6]byte

// sixIDBinarySubtype is the custom BSON binary subtype used for SixIDs.
const sixIDBinarySubtype = 0x80

// SixIDHookFunc is the signature of the NewSixID test hook. When the hook
// returns override=true, its ID is used instead of a random one.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook lets tests make ID generation deterministic (e.g. to force
// duplicate-key collisions).
var NewSixIDHook SixIDHookFunc

// NewSixID returns a new random SixID.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; a zero ID will
		// collide on insert and be retried with a fresh one.
		return SixID{}
	}
	return id
}

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecodeMap = func() map[byte]byte {
	m := make(map[byte]byte, 48)
	for i := 0; i < len(crockfordAlphabet); i++ {
		m[crockfordAlphabet[i]] = byte(i)
	}
	lower := strings.ToLower(crockfordAlphabet)
	for i := 10; i < len(lower); i++ { // letters only
		m[lower[i]] = byte(i)
	}
	// Commonly confused characters decode leniently.
	m['o'] = m['0']
	m['O'] = m['0']
	m['i'] = m['1']
	m['l'] = m['1']
	return m
}()

// String renders the ID as 10 uppercase Crockford Base32 characters.
func (u SixID) String() string {
	out := make([]byte, 0, 10)
	var bits uint
	var nbits uint
	for _, b := range u {
		bits |= uint(b) << nbits
		nbits += 8
		for nbits >= 5 {
			out = append(out, crockfordAlphabet[bits&0x1F])
			bits >>= 5
			nbits -= 5
		}
	}
	if nbits > 0 {
		out = append(out, crockfordAlphabet[bits&0x1F])
	}
	return string(out)
}

// IsZero reports whether the ID is the zero value.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

// ParseSixID decodes a Crockford Base32 string into a SixID. Hyphens and
// spaces are ignored; the empty string parses to the zero ID.
func ParseSixID(s string) (SixID, error) {
	if s == "" {
		return SixID{}, nil
	}
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) != 10 {
		return SixID{}, errors.New("SixID must be 10 Base32 characters")
	}

	var id SixID
	var bits uint64
	var nbits uint
	byteIndex := 0
	for i := 0; i < len(s); i++ {
		val, ok := crockfordDecodeMap[s[i]]
		if !ok {
			return SixID{}, errors.New("invalid character in SixID")
		}
		bits |= uint64(val) << nbits
		nbits += 5
		for nbits >= 8 && byteIndex < 6 {
			id[byteIndex] = byte(bits & 0xFF)
			byteIndex++
			bits >>= 8
			nbits -= 8
		}
	}
	if byteIndex != 6 {
		return SixID{}, errors.New("SixID did not decode to 6 bytes")
	}
	return id, nil
}

// MarshalBSONValue stores the ID as BinData with the custom subtype.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(primitive.Binary{Subtype: sixIDBinarySubtype, Data: u[:]})
}

// UnmarshalBSONValue accepts BinData of the custom subtype (or null, which
// decodes to the zero ID so that partially written documents stay readable).
func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bson.TypeNull {
		*u = SixID{}
		return nil
	}
	if t != bson.TypeBinary {
		return errors.New("SixID: expected BSON binary")
	}
	var bin primitive.Binary
	rv := bson.RawValue{Type: t, Value: data}
	if err := rv.Unmarshal(&bin); err != nil {
		return err
	}
	if bin.Subtype != sixIDBinarySubtype || len(bin.Data) != 6 {
		return errors.New("SixID: wrong binary subtype or length")
	}
	copy(u[:], bin.Data)
	return nil
}

// MarshalJSON renders the ID as its Crockford Base32 string.
func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON parses a Crockford Base32 JSON string.
func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
