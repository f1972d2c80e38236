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

package logger

import "github.com/xdagj/xdagj-p2p-go/logger/glog"

// LogLevel is the verbosity threshold passed to glog.V(). Lower values
// are more severe and are always shown; higher values are progressively
// more chatty. It is a plain alias for glog.Level so that
// glog.V(logger.Detail) type-checks without a conversion at every call
// site, matching the teacher's call pattern throughout p2p/discover.
type LogLevel = glog.Level

const (
	Silence LogLevel = iota
	Error
	Warn
	Info
	Debug
	Detail
	Ridiculousness
)

func (l LogLevel) String() string {
	switch l {
	case Silence:
		return "SILENCE"
	case Error:
		return "ERROR"
	case Warn:
		return "WARN"
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	case Detail:
		return "DETAIL"
	case Ridiculousness:
		return "RIDICULOUSNESS"
	default:
		return "UNKNOWN"
	}
}
