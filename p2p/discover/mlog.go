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

package discover

import "github.com/xdagj/xdagj-p2p-go/logger"

// mlogDiscover is the registered mlog component for this package,
// following the Receiver/Verb/Subject line convention of logger.MLogT.
var mlogDiscover = logger.MLogRegisterAvailable("discover", []logger.MLogT{
	mlogPingSent, mlogPingRecv, mlogPongSent, mlogPongRecv,
	mlogFindNodeSent, mlogFindNodeRecv, mlogNeighboursSent, mlogNeighboursRecv,
})

var mlogPingSent = logger.MLogT{
	Description: "Recorded when a node sends a PING to a peer.",
	Receiver:    "PING",
	Verb:        "SEND",
	Subject:     "TO",
	Details: []logger.MLogDetailT{
		{Owner: "TO", Key: "ID", Value: nil},
		{Owner: "TO", Key: "ADDR", Value: nil},
	},
}

var mlogPingRecv = logger.MLogT{
	Description: "Recorded when a node receives a PING from a peer.",
	Receiver:    "PING",
	Verb:        "HANDLE",
	Subject:     "FROM",
	Details: []logger.MLogDetailT{
		{Owner: "FROM", Key: "ID", Value: nil},
		{Owner: "FROM", Key: "ADDR", Value: nil},
	},
}

var mlogPongSent = logger.MLogT{
	Description: "Recorded when a node sends a PONG to a peer.",
	Receiver:    "PONG",
	Verb:        "SEND",
	Subject:     "TO",
	Details: []logger.MLogDetailT{
		{Owner: "TO", Key: "ID", Value: nil},
		{Owner: "TO", Key: "ADDR", Value: nil},
	},
}

var mlogPongRecv = logger.MLogT{
	Description: "Recorded when a node receives a PONG from a peer.",
	Receiver:    "PONG",
	Verb:        "HANDLE",
	Subject:     "FROM",
	Details: []logger.MLogDetailT{
		{Owner: "FROM", Key: "ID", Value: nil},
		{Owner: "FROM", Key: "ADDR", Value: nil},
	},
}

var mlogFindNodeSent = logger.MLogT{
	Description: "Recorded when a node sends a FIND_NODE to a peer.",
	Receiver:    "FINDNODE",
	Verb:        "SEND",
	Subject:     "TO",
	Details: []logger.MLogDetailT{
		{Owner: "TO", Key: "ID", Value: nil},
		{Owner: "TO", Key: "ADDR", Value: nil},
	},
}

var mlogFindNodeRecv = logger.MLogT{
	Description: "Recorded when a node receives a FIND_NODE from a peer.",
	Receiver:    "FINDNODE",
	Verb:        "HANDLE",
	Subject:     "FROM",
	Details: []logger.MLogDetailT{
		{Owner: "FROM", Key: "ID", Value: nil},
		{Owner: "FROM", Key: "ADDR", Value: nil},
	},
}

var mlogNeighboursSent = logger.MLogT{
	Description: "Recorded when a node sends a NEIGHBOURS list to a peer.",
	Receiver:    "NEIGHBOURS",
	Verb:        "SEND",
	Subject:     "TO",
	Details: []logger.MLogDetailT{
		{Owner: "TO", Key: "ID", Value: nil},
		{Owner: "TO", Key: "COUNT", Value: nil},
	},
}

var mlogNeighboursRecv = logger.MLogT{
	Description: "Recorded when a node receives a NEIGHBOURS list from a peer.",
	Receiver:    "NEIGHBOURS",
	Verb:        "HANDLE",
	Subject:     "FROM",
	Details: []logger.MLogDetailT{
		{Owner: "FROM", Key: "ID", Value: nil},
		{Owner: "FROM", Key: "COUNT", Value: nil},
	},
}

func logPingSent(n *Node) {
	mlogDiscover.Send(mlogPingSent.SetDetailValues(n.ID.String(), n.String()).String())
}

func logPingRecv(n *Node) {
	mlogDiscover.Send(mlogPingRecv.SetDetailValues(n.ID.String(), n.String()).String())
}

func logPongSent(n *Node) {
	mlogDiscover.Send(mlogPongSent.SetDetailValues(n.ID.String(), n.String()).String())
}

func logPongRecv(n *Node) {
	mlogDiscover.Send(mlogPongRecv.SetDetailValues(n.ID.String(), n.String()).String())
}

func logFindNodeSent(n *Node) {
	mlogDiscover.Send(mlogFindNodeSent.SetDetailValues(n.ID.String(), n.String()).String())
}

func logFindNodeRecv(n *Node) {
	mlogDiscover.Send(mlogFindNodeRecv.SetDetailValues(n.ID.String(), n.String()).String())
}

func logNeighboursSent(n *Node, count int) {
	mlogDiscover.Send(mlogNeighboursSent.SetDetailValues(n.ID.String(), count).String())
}

func logNeighboursRecv(n *Node, count int) {
	mlogDiscover.Send(mlogNeighboursRecv.SetDetailValues(n.ID.String(), count).String())
}
