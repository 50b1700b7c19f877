// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnabled(t *testing.T) {
	for _, value := range []string{"on", "True", " enabled ", "1", "yes"} {
		enabled, err := ParseEnabled(value)
		require.Nil(t, err, "unexpected error for %q", value)
		require.True(t, enabled, "%q should parse as enabled", value)
	}
	for _, value := range []string{"off", "FALSE", "disabled", "0", "no"} {
		enabled, err := ParseEnabled(value)
		require.Nil(t, err, "unexpected error for %q", value)
		require.False(t, enabled, "%q should parse as disabled", value)
	}

	_, err := ParseEnabled("maybe")
	require.NotNil(t, err, "expected error for bogus value")
}
