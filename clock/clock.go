// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock supplies the time source used for inode mtimes in the
// native and object filesystems. Tests use SimulatedClock so time-dependent
// assertions don't depend on wall-clock sleeps.
package clock

import "time"

// Clock is implemented by RealClock and SimulatedClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives a value once the given duration
	// has elapsed, mirroring time.After.
	After(d time.Duration) <-chan time.Time
}
