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
	"math/rand"

	"github.com/bufbuild/subsetlb/host"
)

//nolint:gochecknoglobals
var (
	// RandomFactory creates pickers that pick a host at random.
	RandomFactory Factory = FactoryFunc(newRandom)
)

func newRandom(_ Picker, allHosts Hosts) Picker {
	if allHosts.Len() == 0 {
		return ErrorPicker(ErrNoHosts)
	}
	return pickerFunc(func(Request) (host.Host, func(), error) {
		return allHosts.Get(rand.Intn(allHosts.Len())), //nolint:gosec // does not need to be cryptographically secure
			nil, nil
	})
}
