// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics centralizes the registration of discovery-domain counters.
package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
)

// Reg is the metrics destination.
var reg = metrics.NewRegistry()

var (
	PingSent      = metrics.NewRegisteredMeter("discover/ping/sent", reg)
	PingRecv      = metrics.NewRegisteredMeter("discover/ping/recv", reg)
	PongSent      = metrics.NewRegisteredMeter("discover/pong/sent", reg)
	PongRecv      = metrics.NewRegisteredMeter("discover/pong/recv", reg)
	FindNodeSent  = metrics.NewRegisteredMeter("discover/findnode/sent", reg)
	FindNodeRecv  = metrics.NewRegisteredMeter("discover/findnode/recv", reg)
	NeighborsSent = metrics.NewRegisteredMeter("discover/neighbors/sent", reg)
	NeighborsRecv = metrics.NewRegisteredMeter("discover/neighbors/recv", reg)

	PongTimeouts = metrics.NewRegisteredMeter("discover/pong/timeout", reg)
)

var (
	TableSize = metrics.GetOrRegisterGauge("discover/table/size", reg)

	HandlerToAlive       = metrics.NewRegisteredMeter("discover/handler/alive", reg)
	HandlerToActive      = metrics.NewRegisteredMeter("discover/handler/active", reg)
	HandlerToEvictCand   = metrics.NewRegisteredMeter("discover/handler/evictcandidate", reg)
	HandlerToDead        = metrics.NewRegisteredMeter("discover/handler/dead", reg)
	HandlerRevived       = metrics.NewRegisteredMeter("discover/handler/revived", reg)
	ReputationDecayApply = metrics.NewRegisteredMeter("discover/reputation/decay", reg)
)

var (
	DNSFetchSuccess     = metrics.NewRegisteredMeter("dnsdisc/fetch/success", reg)
	DNSFetchLookupError = metrics.NewRegisteredMeter("dnsdisc/fetch/error/lookup", reg)
	DNSFetchHashError   = metrics.NewRegisteredMeter("dnsdisc/fetch/error/hash", reg)
	DNSFetchSigError    = metrics.NewRegisteredMeter("dnsdisc/fetch/error/sig", reg)
	DNSRootUpdateTimer  = metrics.NewRegisteredTimer("dnsdisc/root/update", reg)
)

var (
	PoolConnecting = metrics.GetOrRegisterGauge("pool/connecting", reg)
	PoolConnected  = metrics.GetOrRegisterGauge("pool/connected", reg)
	PoolBanned     = metrics.GetOrRegisterGauge("pool/banned", reg)
	PoolDialErrors = metrics.NewRegisteredMeter("pool/dial/error", reg)
)

var (
	MemAllocs = metrics.GetOrRegisterGauge("memory/allocs", reg)
	MemFrees  = metrics.GetOrRegisterGauge("memory/frees", reg)
	MemInuse  = metrics.GetOrRegisterGauge("memory/inuse", reg)
	MemPauses = metrics.GetOrRegisterGauge("memory/pauses", reg)

	DiskReads      = metrics.GetOrRegisterGauge("disk/readcount", reg)
	DiskReadBytes  = metrics.GetOrRegisterGauge("disk/readdata", reg)
	DiskWrites     = metrics.GetOrRegisterGauge("disk/writecount", reg)
	DiskWriteBytes = metrics.GetOrRegisterGauge("disk/writedata", reg)
)

// diskStats is the per process disk I/O statistics.
type diskStats struct {
	ReadCount  int64 // Number of read operations executed
	ReadBytes  int64 // Total number of bytes read
	WriteCount int64 // Number of write operations executed
	WriteBytes int64 // Total number of byte written
}

// Collect writes metrics to the given file every few seconds.
func Collect(file string) {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		glog.Fatal(err)
	}
	defer f.Close()

	encoder := json.NewEncoder(bufio.NewWriter(f))

	for range time.Tick(3 * time.Second) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		MemAllocs.Update(int64(mem.Mallocs))
		MemFrees.Update(int64(mem.Frees))
		MemInuse.Update(int64(mem.Alloc))
		MemPauses.Update(int64(mem.PauseTotalNs))

		var disk diskStats
		readDiskStats(&disk)
		DiskReads.Update(disk.ReadCount)
		DiskReadBytes.Update(disk.ReadBytes)
		DiskWrites.Update(disk.WriteCount)
		DiskWriteBytes.Update(disk.WriteBytes)

		if err := encoder.Encode(reg); err != nil {
			glog.Errorf("metrics: log to %q: %s", file, err)
		}
	}
}
