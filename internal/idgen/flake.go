// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package idgen generates the identifiers lakewriter hands out: attempt ids,
// job ids, instance ids and short operation ids.
package idgen

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sony/sonyflake"
)

var flakeEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// defaultFlake is built on first use so importing the package never
// depends on the host's network configuration.
var defaultFlake = sync.OnceValue(func() *SonyFlakeGenerator {
	g, err := newFlakeGenerator(nil)
	if err != nil {
		// sonyflake wants a private IPv4 address for its machine id
		g, err = newFlakeGenerator(hostMachineID)
	}
	if err != nil {
		return nil
	}
	return g
})

// SonyFlakeGenerator produces roughly time-ordered 63-bit ids.
type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// newFlakeGenerator uses sonyflake's private-IP machine id when machineID
// is nil.
func newFlakeGenerator(machineID func() (uint16, error)) (*SonyFlakeGenerator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: flakeEpoch,
		MachineID: machineID,
	})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

// hostMachineID derives a machine id from the host name and process id.
func hostMachineID() (uint16, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return uint16(xxhash.Sum64String(fmt.Sprintf("%s/%d", host, os.Getpid()))), nil
}

// NextID returns a positive int64 that increases roughly in time order.
// Without a working generator it returns a random positive int64.
func (g *SonyFlakeGenerator) NextID() int64 {
	if g == nil {
		return rand.Int64()
	}
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

var lowerBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NextBase32ID returns NextID as unpadded lower-case base32.
func (g *SonyFlakeGenerator) NextBase32ID() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(g.NextID()))
	return strings.ToLower(lowerBase32.EncodeToString(b[:]))
}

// NextID returns an id from the process-wide generator.
func NextID() int64 {
	return defaultFlake().NextID()
}

// NextBase32ID returns a base32 id from the process-wide generator. Job ids
// that are not supplied on the command line come from here.
func NextBase32ID() string {
	return defaultFlake().NextBase32ID()
}
