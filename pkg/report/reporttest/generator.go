// Package reporttest builds layout-correct, signed reports for tests.
package reporttest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/tixcondenser/pkg/report"
)

// DefaultStartTimestamp is the unix timestamp of the first observation of a default report.
const DefaultStartTimestamp int64 = 1530000000

const (
	secondToNano = int64(time.Second)
	milliToNano  = int64(time.Millisecond)

	shortPacketSize = 44
	longPacketSize  = 4400
)

var (
	defaultKeyOnce sync.Once
	defaultKey     *rsa.PrivateKey
)

// DefaultKey returns a process-wide RSA key so tests do not pay for key
// generation on every report.
func DefaultKey() *rsa.PrivateKey {
	defaultKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(fmt.Sprintf("reporttest: generate key: %v", err))
		}
		defaultKey = key
	})
	return defaultKey
}

// Generator builds reports. The zero value is not usable, start from Defaults.
type Generator struct {
	from           string
	to             string
	startTimestamp int64
	userID         int64
	installationID int64
	key            *rsa.PrivateKey
	observations   int
}

// Defaults returns a generator for user 1, installation 1, 60 observations.
func Defaults() *Generator {
	return &Generator{
		from:           "192.168.1.1:4500",
		to:             "10.0.0.1:4500",
		startTimestamp: DefaultStartTimestamp,
		userID:         1,
		installationID: 1,
		observations:   60,
	}
}

func (g *Generator) WithFrom(from string) *Generator {
	g.from = from
	return g
}

func (g *Generator) WithTo(to string) *Generator {
	g.to = to
	return g
}

func (g *Generator) WithStartTimestamp(ts int64) *Generator {
	g.startTimestamp = ts
	return g
}

func (g *Generator) WithUserID(id int64) *Generator {
	g.userID = id
	return g
}

func (g *Generator) WithInstallationID(id int64) *Generator {
	g.installationID = id
	return g
}

func (g *Generator) WithKey(key *rsa.PrivateKey) *Generator {
	g.key = key
	return g
}

func (g *Generator) WithObservations(n int) *Generator {
	g.observations = n
	return g
}

// Build returns a signed report.
func (g *Generator) Build() report.Report {
	key := g.key
	if key == nil {
		key = DefaultKey()
	}
	publicKey, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(fmt.Sprintf("reporttest: marshal public key: %v", err))
	}

	payload := Payload(g.startTimestamp, g.observations)
	digest := sha256.Sum256(payload)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		panic(fmt.Sprintf("reporttest: sign payload: %v", err))
	}

	initial := nanosOfDay(g.startTimestamp) + 15*secondToNano
	return report.Report{
		SourceAddress:      g.from,
		DestinationAddress: g.to,
		InitialTimestamp:   initial,
		ReceptionTimestamp: initial + 5000*milliToNano,
		UserID:             g.userID,
		InstallationID:     g.installationID,
		PublicKey:          publicKey,
		Payload:            payload,
		Signature:          signature,
	}
}

// Series builds n reports spaced step seconds apart starting at start.
func (g *Generator) Series(start int64, n int, step int64) []report.Report {
	reports := make([]report.Report, 0, n)
	for i := 0; i < n; i++ {
		reports = append(reports, g.WithStartTimestamp(start+int64(i)*step).Build())
	}
	return reports
}

// Payload builds n observation records, one per second from start.
func Payload(start int64, n int) []byte {
	payload := make([]byte, 0, n*report.ObservationSize)
	clock := nanosOfDay(start)
	for i := 0; i < n; i++ {
		payload = binary.BigEndian.AppendUint64(payload, uint64(start+int64(i)))
		if i%2 == 0 {
			payload = append(payload, 'S')
			payload = binary.BigEndian.AppendUint32(payload, shortPacketSize)
		} else {
			payload = append(payload, 'L')
			payload = binary.BigEndian.AppendUint32(payload, longPacketSize)
		}
		for j := 0; j < report.SubTimestamps; j++ {
			payload = binary.BigEndian.AppendUint64(payload, uint64(clock))
			clock += 5 * milliToNano
		}
		clock += (1000 - 5*report.SubTimestamps) * milliToNano
	}
	return payload
}

func nanosOfDay(unix int64) int64 {
	return (unix % 86400) * secondToNano
}
