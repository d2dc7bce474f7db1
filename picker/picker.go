// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package picker

import (
	"errors"

	"github.com/bufbuild/subsetlb/host"
)

// ErrNoHosts is returned by a Picker that has no hosts to pick from.
var ErrNoHosts = errors.New("no hosts available")

// Request carries the algorithm-specific hints a caller may attach to a
// selection. It is passed through to the picker unchanged, so hash-based
// algorithms see exactly what the caller supplied.
type Request struct {
	// HashKey is the consistent-hashing key for hash-based algorithms
	// (e.g. a session or user identifier). Ignored by other algorithms.
	HashKey string
}

// Picker implements host selection. For a given request, it returns the
// host to use. It also returns a callback that, if non-nil, must be
// invoked when the operation is complete. Such a callback is used, for
// example, to track the number of in-flight requests for a least-request
// implementation.
type Picker interface {
	Pick(req Request) (picked host.Host, whenDone func(), err error)
}

// Factory creates new Picker instances. A picker, once built, is an
// immutable snapshot over a fixed host list; whenever that list changes
// the factory is asked for a new picker rather than the existing one
// being mutated. The previous picker is provided so that successive
// generations can share state (in-flight counts for least-request,
// detection times for fade-in). The previous picker may still be in
// concurrent use while, and shortly after, the factory builds the new
// one, so any shared state must be safe for that overlap.
type Factory interface {
	New(prev Picker, hosts Hosts) Picker
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(prev Picker, hosts Hosts) Picker

func (f FactoryFunc) New(prev Picker, hosts Hosts) Picker {
	return f(prev, hosts)
}

// Hosts represents a read-only list of candidate hosts.
type Hosts interface {
	// Len returns the total number of hosts in the list.
	Len() int
	// Get returns the host at index i.
	Get(i int) host.Host
}

// HostsFromSlice adapts a slice to the Hosts interface. The slice must
// not be modified afterwards.
func HostsFromSlice(hosts []host.Host) Hosts {
	return hostSlice(hosts)
}

type hostSlice []host.Host

func (s hostSlice) Len() int            { return len(s) }
func (s hostSlice) Get(i int) host.Host { return s[i] }

// ErrorPicker returns a picker that always fails with the given error.
func ErrorPicker(err error) Picker {
	return pickerFunc(func(Request) (host.Host, func(), error) {
		return nil, nil, err
	})
}

type pickerFunc func(req Request) (host.Host, func(), error)

func (f pickerFunc) Pick(req Request) (host.Host, func(), error) {
	return f(req)
}
