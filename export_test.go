// Copyright 2023 Buf Technologies, Inc.
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

package connmgr

import "github.com/bufbuild/connmgr/internal"

// WithTestClock overrides the manager's time source. It is exported only
// for use by this module's own tests, which need a fake clock to drive
// retry pacing deterministically instead of racing the wall clock.
func WithTestClock(clock internal.Clock) Option {
	return withClock(clock)
}
