// Package scram implements the client side of SCRAM-SHA-256 (RFC 5802 /
// RFC 7677), the mechanism the Connection State Machine drives on an
// AuthenticationSASL challenge (§4.1). It deliberately implements only
// what the core needs to finish one handshake — it is not a general
// SASL framework.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

const clientNonceLength = 24

var (
	ErrServerSignatureMismatch = errors.New("scram: server signature mismatch")
	ErrMalformedServerMessage  = errors.New("scram: malformed server message")
)

// Client drives one SCRAM-SHA-256 exchange. Create with NewClient,
// call FirstMessage, ContinueResponse and Finish in order; the
// Connection State Machine owns when
// each is invoked relative to AuthenticationSASL/SASLContinue/SASLFinal.
type Client struct {
	username     string
	password     string
	clientNonce  string
	channelBound bool
	bindingData  []byte // TLS channel-binding data ("tls-server-end-point"), nil if not bound

	clientFirstBare string
	serverFirstMsg  string
	saltedPassword  []byte
	authMessage     string
}

// NewClient prepares a client for a handshake. bindingData is the TLS
// channel-binding payload (nil when the connection isn't bound, in
// which case Mechanism returns "SCRAM-SHA-256" rather than the -PLUS
// variant).
func NewClient(username, password string, bindingData []byte) (*Client, error) {
	normalizedPassword, err := precis.OpaqueString.String(password)
	if err != nil {
		// SASLprep failure falls back to the raw password per RFC 4013 §2.
		normalizedPassword = password
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("scram: generate nonce: %w", err)
	}
	return &Client{
		username:     username,
		password:     normalizedPassword,
		clientNonce:  nonce,
		channelBound: bindingData != nil,
		bindingData:  bindingData,
	}, nil
}

// Mechanism reports which SASL mechanism name this client should be
// offered as, per §4.1's "select SCRAM-SHA-256 (preferred) or
// SCRAM-SHA-256-PLUS when TLS binding is available".
func (c *Client) Mechanism() string {
	if c.channelBound {
		return "SCRAM-SHA-256-PLUS"
	}
	return "SCRAM-SHA-256"
}

// gs2Header is the GS2 channel-binding header prefixed to every client
// message: "p=tls-server-end-point,," when the client was given
// channel-binding data, "n,," otherwise. The "y" header is never sent.
func (c *Client) gs2Header() string {
	if c.channelBound {
		return "p=tls-server-end-point,,"
	}
	return "n,,"
}

// FirstMessage builds the client-first-message to send as the
// SASLInitialResponse payload (action SendSaslInitial).
func (c *Client) FirstMessage() []byte {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", saslName(c.username), c.clientNonce)
	return []byte(c.gs2Header() + c.clientFirstBare)
}

// ContinueResponse consumes an AuthenticationSASLContinue payload
// (server-first-message) and returns the client-final-message bytes to
// send as the SASLResponse payload.
func (c *Client) ContinueResponse(serverFirst []byte) ([]byte, error) {
	c.serverFirstMsg = string(serverFirst)
	fields, err := parseFields(c.serverFirstMsg)
	if err != nil {
		return nil, err
	}
	serverNonce := fields["r"]
	saltB64 := fields["s"]
	iterStr := fields["i"]
	if serverNonce == "" || saltB64 == "" || iterStr == "" {
		return nil, ErrMalformedServerMessage
	}
	if !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, fmt.Errorf("scram: server nonce %q does not extend client nonce", serverNonce)
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("scram: decode salt: %w", err)
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil {
		return nil, fmt.Errorf("scram: parse iteration count: %w", err)
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, sha256.Size, sha256.New)

	channelBinding := base64.StdEncoding.EncodeToString([]byte(c.gs2Header()))
	if c.channelBound {
		channelBinding = base64.StdEncoding.EncodeToString(append([]byte(c.gs2Header()), c.bindingData...))
	}
	clientFinalWithoutProof := fmt.Sprintf("c=%s,r=%s", channelBinding, serverNonce)

	c.authMessage = strings.Join([]string{c.clientFirstBare, c.serverFirstMsg, clientFinalWithoutProof}, ",")

	clientKey := hmacSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], []byte(c.authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	final := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(final), nil
}

// Finish verifies an AuthenticationSASLFinal payload's server signature
// against the expected value. A mismatch means the server doesn't know
// the password (or something tampered with the exchange); the caller
// must treat this as an authentication failure, not merely a warning.
func (c *Client) Finish(serverFinal []byte) error {
	fields, err := parseFields(string(serverFinal))
	if err != nil {
		return err
	}
	sigB64, ok := fields["v"]
	if !ok {
		if errMsg, ok := fields["e"]; ok {
			return fmt.Errorf("scram: server reported error: %s", errMsg)
		}
		return ErrMalformedServerMessage
	}
	gotSig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("scram: decode server signature: %w", err)
	}

	serverKey := hmacSHA256(c.saltedPassword, []byte("Server Key"))
	wantSig := hmacSHA256(serverKey, []byte(c.authMessage))
	if !hmac.Equal(gotSig, wantSig) {
		return ErrServerSignatureMismatch
	}
	return nil
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func randomNonce() (string, error) {
	raw := make([]byte, clientNonceLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

// saslName escapes ',' and '=' per RFC 5802 §5.1; PostgreSQL doesn't
// actually use the authzid/username field for anything (it
// authenticates via the startup message), but a correct client still
// encodes it.
func saslName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

func parseFields(msg string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, ErrMalformedServerMessage
		}
		fields[kv[0]] = kv[1]
	}
	return fields, nil
}
