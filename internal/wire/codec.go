package wire

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrLineTooLarge is returned when an incoming line exceeds
// MaxLineBytes. It is checked before any JSON parsing is attempted.
var ErrLineTooLarge = errors.New("wire: line exceeds max size")

// Reader decodes newline-delimited envelopes, rejecting any line over
// MaxLineBytes before it is ever handed to the JSON decoder.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	s.Split(bufio.ScanLines)
	return &Reader{scanner: s}
}

func (r *Reader) ReadEnvelope() (*Envelope, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrLineTooLarge
			}
			return nil, err
		}
		return nil, io.EOF
	}
	line := r.scanner.Bytes()
	if len(line) > MaxLineBytes {
		return nil, ErrLineTooLarge
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, errors.Wrap(err, "wire: decode envelope")
	}
	return &env, nil
}

// WriteEnvelope serializes env as one JSON line.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "wire: encode envelope")
	}
	if len(b) > MaxLineBytes {
		return ErrLineTooLarge
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// NewNonce returns 16 random bytes, hex-encoded per spec.md §6.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("wire: generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func nonceBytes(env *Envelope) ([]byte, error) {
	b, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, errors.Wrap(err, "wire: decode nonce")
	}
	return b, nil
}

func tsOf(env *Envelope) time.Time {
	return time.UnixMilli(env.TS)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
