package provisioning

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// credentialsMagic marks a valid credentials record ("VW").
	credentialsMagic uint16 = 0x5657

	// Field sizes in the stored record. SSID and password sizes follow the
	// 802.11 limits; the token field fits the platform's device tokens.
	maxSSIDLen     = 33
	maxPasswordLen = 65
	maxTokenLen    = 64

	// credentialsSize is magic + ssid + password + token + checksum.
	credentialsSize = 2 + maxSSIDLen + maxPasswordLen + maxTokenLen + 1
)

var (
	ErrNoCredentials      = errors.New("provisioning: no stored credentials")
	ErrCorruptCredentials = errors.New("provisioning: stored credentials failed validation")
	ErrFieldTooLong       = errors.New("provisioning: credential field too long")
)

// Credentials holds the network credentials and device token collected
// during provisioning.
type Credentials struct {
	SSID     string
	Password string
	Token    string
}

// Valid reports whether the credentials name a network.
func (c Credentials) Valid() bool {
	return c.SSID != ""
}

// encode packs the credentials into the fixed-size record. The final byte is
// an XOR checksum over everything before it.
func (c Credentials) encode() ([]byte, error) {
	if len(c.SSID) >= maxSSIDLen {
		return nil, fmt.Errorf("%w: ssid", ErrFieldTooLong)
	}
	if len(c.Password) >= maxPasswordLen {
		return nil, fmt.Errorf("%w: password", ErrFieldTooLong)
	}
	if len(c.Token) >= maxTokenLen {
		return nil, fmt.Errorf("%w: token", ErrFieldTooLong)
	}

	buf := make([]byte, credentialsSize)
	binary.LittleEndian.PutUint16(buf[0:2], credentialsMagic)
	copy(buf[2:2+maxSSIDLen], c.SSID)
	copy(buf[2+maxSSIDLen:2+maxSSIDLen+maxPasswordLen], c.Password)
	copy(buf[2+maxSSIDLen+maxPasswordLen:credentialsSize-1], c.Token)
	buf[credentialsSize-1] = checksum(buf[:credentialsSize-1])
	return buf, nil
}

// decode unpacks and validates a stored record.
func decode(buf []byte) (Credentials, error) {
	if len(buf) != credentialsSize {
		return Credentials{}, fmt.Errorf("%w: record is %d bytes, want %d", ErrCorruptCredentials, len(buf), credentialsSize)
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != credentialsMagic {
		return Credentials{}, fmt.Errorf("%w: bad magic", ErrCorruptCredentials)
	}
	if buf[credentialsSize-1] != checksum(buf[:credentialsSize-1]) {
		return Credentials{}, fmt.Errorf("%w: bad checksum", ErrCorruptCredentials)
	}

	c := Credentials{
		SSID:     cString(buf[2 : 2+maxSSIDLen]),
		Password: cString(buf[2+maxSSIDLen : 2+maxSSIDLen+maxPasswordLen]),
		Token:    cString(buf[2+maxSSIDLen+maxPasswordLen : credentialsSize-1]),
	}
	if !c.Valid() {
		return Credentials{}, fmt.Errorf("%w: empty ssid", ErrCorruptCredentials)
	}
	return c, nil
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// cString returns the bytes up to the first NUL as a string.
func cString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// Store persists provisioning credentials across restarts.
type Store interface {
	// Load returns the stored credentials. ErrNoCredentials means none are
	// saved; ErrCorruptCredentials means the record failed validation.
	Load() (Credentials, error)

	// Save writes the credentials, replacing any previous record.
	Save(Credentials) error

	// Clear removes any stored credentials. Clearing an empty store is not
	// an error.
	Clear() error
}

// FileStore keeps the credentials record in a single file, created with
// owner-only permissions.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (Credentials, error) {
	buf, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("reading credentials: %w", err)
	}
	return decode(buf)
}

func (s *FileStore) Save(c Credentials) error {
	buf, err := c.encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating credentials directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, buf, 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}

// HasCredentials reports whether a store holds a valid record.
func HasCredentials(s Store) bool {
	_, err := s.Load()
	return err == nil
}
