// Copyright 2015 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// discnode runs a standalone Kademlia peer discovery node: it
// maintains a routing table over UDP, resolves a DNS seed tree, feeds
// both into a connection pool controller, and periodically probes the
// tracked node set for liveness.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/fatih/color"
	wordwrap "github.com/mitchellh/go-wordwrap"
	"github.com/rjeczalik/notify"
	"github.com/spf13/afero"
	"gopkg.in/urfave/cli.v1"

	"github.com/xdagj/xdagj-p2p-go/logger"
	"github.com/xdagj/xdagj-p2p-go/logger/glog"
	"github.com/xdagj/xdagj-p2p-go/metrics"
	"github.com/xdagj/xdagj-p2p-go/p2p/detect"
	"github.com/xdagj/xdagj-p2p-go/p2p/discover"
	"github.com/xdagj/xdagj-p2p-go/p2p/dnsdisc"
	"github.com/xdagj/xdagj-p2p-go/p2p/dnsmanager"
	"github.com/xdagj/xdagj-p2p-go/p2p/pool"
)

// Version is the application revision identifier. It can be set with
// the linker as in: go build -ldflags "-X main.Version="`git describe --tags`
var Version = "unknown"

var (
	listenAddrFlag = cli.StringFlag{Name: "addr", Value: ":30301", Usage: "UDP listen address"}
	dataDirFlag    = cli.StringFlag{Name: "datadir", Value: "./discnode-data", Usage: "directory for persisted reputation, DNS root state, and the node database"}
	genKeyFlag     = cli.StringFlag{Name: "genkey", Usage: "generate a node key at this path and quit"}
	nodeKeyFlag    = cli.StringFlag{Name: "nodekey", Usage: "private key filename"}
	nodeKeyHexFlag = cli.StringFlag{Name: "nodekeyhex", Usage: "private key as hex (for testing)"}
	bootnodesFlag  = cli.StringFlag{Name: "bootnodes", Usage: "comma-separated host:port list of bootstrap nodes"}
	dnsTreesFlag   = cli.StringFlag{Name: "dns", Usage: "comma-separated tree:// URLs to sync peers from"}
	networkIDFlag  = cli.Uint64Flag{Name: "networkid", Value: 1, Usage: "local network id advertised in pings"}
	minConnFlag    = cli.IntFlag{Name: "min-peers", Value: 25, Usage: "target connection count"}
	minActiveFlag  = cli.IntFlag{Name: "min-active-peers", Value: 8, Usage: "target outbound connection count"}
	maxConnFlag    = cli.IntFlag{Name: "max-peers", Value: 50, Usage: "hard cap on total connections"}
	metricsFlag    = cli.StringFlag{Name: "metrics-file", Usage: "write periodic JSON metrics snapshots to this file"}
	verbosityFlag  = cli.IntFlag{Name: "verbosity", Value: int(logger.Info), Usage: "log verbosity (0-6)"}
)

func main() {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Version = Version
	app.Usage = "standalone Kademlia discovery and connection-pool node"
	app.Description = wordwrap.WrapString(
		"discnode maintains a Kademlia routing table over UDP, resolves a DNS-published "+
			"seed tree, and drives a connection pool toward a configured peer count. It has "+
			"no blockchain or wire protocol of its own; it exists to exercise and observe the "+
			"discovery substrate in isolation.", 78)
	app.Flags = []cli.Flag{
		listenAddrFlag, dataDirFlag, genKeyFlag, nodeKeyFlag, nodeKeyHexFlag,
		bootnodesFlag, dnsTreesFlag, networkIDFlag, minConnFlag, minActiveFlag,
		maxConnFlag, metricsFlag, verbosityFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	glog.SetToStderr(true)
	glog.SetV(ctx.Int(verbosityFlag.Name))

	if genKeyPath := ctx.String(genKeyFlag.Name); genKeyPath != "" {
		return writeNewNodeKey(genKeyPath)
	}

	dataDir := ctx.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("discnode: creating data dir: %w", err)
	}

	nodeKey, err := loadOrGenerateNodeKey(ctx, dataDir)
	if err != nil {
		return err
	}
	selfID := discover.PubkeyToNodeID(&nodeKey.PublicKey)

	conn, selfPort, err := listenUDP(ctx.String(listenAddrFlag.Name))
	if err != nil {
		return err
	}
	defer conn.Close()

	repStore := discover.NewReputationStore(afero.NewOsFs(), dataDir)
	defer repStore.Stop()

	self := &discover.Node{ID: selfID, Port: selfPort, NetworkID: ctx.Uint64(networkIDFlag.Name)}
	bootNodes, err := parseBootnodes(ctx.String(bootnodesFlag.Name))
	if err != nil {
		return err
	}

	svc := discover.NewService(discover.Config{
		Self:           self,
		LocalNetworkID: ctx.Uint64(networkIDFlag.Name),
		BootNodes:      bootNodes,
		Conn:           conn,
		Reputation:     repStore,
		LocalHasIPv4:   true,
		NodeDBPath:     filepath.Join(dataDir, "nodes.ldb"),
	})
	defer svc.Close()
	svc.ChannelActivated()

	stopDiscover := make(chan struct{})
	go svc.DiscoverLoop(stopDiscover)
	defer close(stopDiscover)

	go udpReadLoop(conn, svc)

	detectHandler := detect.NewHandler(tcpProber{}, serviceAsSource{svc})
	go detectHandler.Run()
	defer detectHandler.Stop()

	var dnsMgr *dnsmanager.Manager
	if urls := splitNonEmpty(ctx.String(dnsTreesFlag.Name)); len(urls) > 0 {
		dnsMgr, err = dnsmanager.New(dnsdisc.Config{Resolver: net.DefaultResolver}, dataDir, urls...)
		if err != nil {
			return fmt.Errorf("discnode: dns manager: %w", err)
		}
		defer dnsMgr.Close()
	}

	poolCfg := pool.Config{
		MinConnections:       ctx.Int(minConnFlag.Name),
		MinActiveConnections: ctx.Int(minActiveFlag.Name),
		MaxConnections:       ctx.Int(maxConnFlag.Name),
	}
	channels := &logOnlyChannels{}
	controller := pool.NewController(poolCfg, logOnlyDialer{}, detectHandler, serviceAsSource{svc}, dnsSourceOrNil(dnsMgr), channels)
	go controller.Run()
	defer controller.Stop()

	watchDataDir(dataDir)

	if mf := ctx.String(metricsFlag.Name); mf != "" {
		go metrics.Collect(mf)
	}

	color.Cyan("discnode listening on %s, node id %s", conn.LocalAddr(), selfID)
	select {}
}

// writeNewNodeKey generates a fresh secp256k1 key and writes its hex
// encoding to path, mirroring the teacher bootnode's -genkey flag.
func writeNewNodeKey(path string) error {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return fmt.Errorf("discnode: generating key: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key.Serialize())), 0600); err != nil {
		return fmt.Errorf("discnode: writing key file: %w", err)
	}
	fmt.Println("wrote node key to", path)
	return nil
}

func loadOrGenerateNodeKey(ctx *cli.Context, dataDir string) (*ecdsa.PrivateKey, error) {
	switch {
	case ctx.String(nodeKeyHexFlag.Name) != "":
		return parseHexKey(ctx.String(nodeKeyHexFlag.Name))
	case ctx.String(nodeKeyFlag.Name) != "":
		b, err := os.ReadFile(ctx.String(nodeKeyFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("discnode: reading node key: %w", err)
		}
		return parseHexKey(strings.TrimSpace(string(b)))
	default:
		defaultPath := filepath.Join(dataDir, "nodekey")
		if b, err := os.ReadFile(defaultPath); err == nil {
			return parseHexKey(strings.TrimSpace(string(b)))
		}
		key, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("discnode: generating node key: %w", err)
		}
		if err := os.WriteFile(defaultPath, []byte(hex.EncodeToString(key.Serialize())), 0600); err != nil {
			return nil, fmt.Errorf("discnode: persisting node key: %w", err)
		}
		return key.ToECDSA(), nil
	}
}

func parseHexKey(s string) (*ecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("discnode: bad node key hex: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv.ToECDSA(), nil
}

func listenUDP(addr string) (*net.UDPConn, uint16, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("discnode: resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("discnode: listening on %s: %w", addr, err)
	}
	return conn, uint16(conn.LocalAddr().(*net.UDPAddr).Port), nil
}

func udpReadLoop(conn *net.UDPConn, svc *discover.Service) {
	buf := make([]byte, 1280)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			glog.V(logger.Debug).Infof("discnode: udp read: %v", err)
			return
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		svc.HandleEvent(packet, addr)
	}
}

func parseBootnodes(csv string) ([]*discover.Node, error) {
	var out []*discover.Node
	for _, hostport := range splitNonEmpty(csv) {
		host, portStr, err := net.SplitHostPort(hostport)
		if err != nil {
			return nil, fmt.Errorf("discnode: bad bootnode %q: %w", hostport, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("discnode: bad bootnode port %q: %w", hostport, err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("discnode: bad bootnode host %q", host)
		}
		n := &discover.Node{Port: uint16(port)}
		if v4 := ip.To4(); v4 != nil {
			n.IP4 = v4
		} else {
			n.IP6 = ip
		}
		out = append(out, n)
	}
	return out, nil
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// watchDataDir logs data-directory file events (e.g. an operator
// dropping a fresh reputation snapshot in place), mirroring the
// teacher's keystore directory watcher.
func watchDataDir(dir string) {
	events := make(chan notify.EventInfo, 8)
	if err := notify.Watch(dir, events, notify.Write, notify.Create); err != nil {
		glog.V(logger.Warn).Infof("discnode: cannot watch %s: %v", dir, err)
		return
	}
	go func() {
		for ev := range events {
			glog.V(logger.Detail).Infof("discnode: data dir event %s", ev)
		}
	}()
}

// serviceAsSource adapts discover.Service to both detect.Source and
// pool.NodeSource.
type serviceAsSource struct{ s *discover.Service }

func (a serviceAsSource) ConnectableNodes() []*discover.Node { return a.s.ConnectableNodes() }

func dnsSourceOrNil(m *dnsmanager.Manager) pool.NodeSource {
	if m == nil {
		return nil
	}
	return m
}

// tcpProber probes a node by attempting a bare TCP handshake on its
// advertised port, closing immediately on success. No richer capacity
// handshake is defined at this layer, so success reports one free slot.
type tcpProber struct{}

func (tcpProber) Probe(ctx context.Context, n *discover.Node) (int, error) {
	ip := n.IP4
	if ip == nil {
		ip = n.IP6
	}
	addr := fmt.Sprintf("%s:%d", ip.String(), n.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return 1, nil
}

// logOnlyDialer stands in for a real TCP dialer: this binary observes
// and exercises the discovery substrate without a peer wire protocol
// of its own, so a dial attempt is just logged.
type logOnlyDialer struct{}

func (logOnlyDialer) Dial(c pool.Candidate) {
	glog.V(logger.Info).Infof("discnode: would dial %s (id=%s)", c.Addr, c.ID)
}

// logOnlyChannels reports no live channels: with no wire protocol,
// the pool always perceives zero connections, which is enough to
// exercise its candidate-selection and dial-emission logic.
type logOnlyChannels struct{}

func (logOnlyChannels) Channels() []pool.Channel                { return nil }
func (logOnlyChannels) Disconnect(ch pool.Channel, reason string) {}
